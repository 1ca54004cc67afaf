package beeodm

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

type MySQLPoolConfig interface {
	GetCode() string
	GetDatabase() string
	GetDataSourceURI() string
	GetOptions() MySQLPoolOptions
}

type mySQLPoolConfig struct {
	dataSourceName string
	code           string
	databaseName   string
	options        MySQLPoolOptions
}

func (p *mySQLPoolConfig) GetCode() string {
	return p.code
}

func (p *mySQLPoolConfig) GetDatabase() string {
	return p.databaseName
}

func (p *mySQLPoolConfig) GetDataSourceURI() string {
	return p.dataSourceName
}

func (p *mySQLPoolConfig) GetOptions() MySQLPoolOptions {
	return p.options
}

func (p *mySQLPoolConfig) applyOptions(db *sql.DB) {
	maxLimit := 100
	if p.options.MaxOpenConnections > 0 {
		maxLimit = p.options.MaxOpenConnections
	}
	maxIdle := maxLimit
	if p.options.MaxIdleConnections > 0 {
		maxIdle = int(math.Min(float64(p.options.MaxIdleConnections), float64(maxLimit)))
	}
	maxDuration := 5 * time.Minute
	if p.options.ConnMaxLifetime > 0 {
		maxDuration = p.options.ConnMaxLifetime
	}
	db.SetMaxOpenConns(maxLimit)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxDuration)
}

// MySQLStore keeps every collection in its own table with ID and Document columns.
// One batch is one SELECT with IN clause.
type MySQLStore struct {
	config *mySQLPoolConfig
	db     *sql.DB
}

func (s *MySQLStore) GetConfig() MySQLPoolConfig {
	return s.config
}

func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

func (s *MySQLStore) Find(c Context, collection string, ids []string) (Cursor, error) {
	query := "SELECT `ID`, `Document` FROM `" + collection + "` WHERE `ID` IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	entry, loggers := s.newLog(c, "SELECT", collection, len(ids))
	rows, err := s.db.QueryContext(c.Ctx(), query, args...)
	entry.done(c, loggers, query, false, err)
	if err != nil {
		return nil, errors.Wrapf(err, "mysql pool '%s'", s.config.code)
	}
	return &sqlCursor{rows: rows}, nil
}

func (s *MySQLStore) Save(c Context, collection string, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}
	query := "INSERT INTO `" + collection + "` (`ID`, `Document`) VALUES (?,?)" + strings.Repeat(",(?,?)", len(documents)-1) +
		" ON DUPLICATE KEY UPDATE `Document` = VALUES(`Document`)"
	args := make([]any, 0, len(documents)*2)
	for _, document := range documents {
		args = append(args, document.ID, document.Data)
	}
	return s.exec(c, "INSERT", collection, len(documents), query, args...)
}

func (s *MySQLStore) Remove(c Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := "DELETE FROM `" + collection + "` WHERE `ID` IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.exec(c, "DELETE", collection, len(ids), query, args...)
}

// CreateCollection creates table for collection when it does not exist.
func (s *MySQLStore) CreateCollection(c Context, collection string) error {
	query := "CREATE TABLE IF NOT EXISTS `" + collection + "` (`ID` varchar(191) NOT NULL, `Document` mediumblob NOT NULL, " +
		"PRIMARY KEY (`ID`)) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	return s.exec(c, "CREATE", collection, 0, query)
}

func (s *MySQLStore) TruncateCollection(c Context, collection string) error {
	return s.exec(c, "TRUNCATE", collection, 0, "TRUNCATE TABLE `"+collection+"`")
}

// Ping checks connection, waiting at most timeout.
func (s *MySQLStore) Ping(c Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Ctx(), timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) exec(c Context, operation, collection string, batch int, query string, args ...any) error {
	entry, loggers := s.newLog(c, operation, collection, batch)
	_, err := s.db.ExecContext(c.Ctx(), query, args...)
	entry.done(c, loggers, query, false, err)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) {
			return errors.Wrapf(err, "mysql pool '%s' error %s", s.config.code, strconv.Itoa(int(mysqlErr.Number)))
		}
		return errors.Wrapf(err, "mysql pool '%s'", s.config.code)
	}
	return nil
}

func (s *MySQLStore) newLog(c Context, operation, collection string, batch int) (*queryLog, []LogHandler) {
	hasLogger, loggers := c.getDBLoggers()
	if !hasLogger {
		return nil, nil
	}
	return newQueryLog(sourceMySQL, s.config.code, operation, collection, batch, true), loggers
}

type sqlCursor struct {
	rows     *sql.Rows
	document Document
	err      error
}

func (c *sqlCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var data []byte
	if err := c.rows.Scan(&c.document.ID, &data); err != nil {
		c.err = err
		return false
	}
	c.document.Data = data
	return true
}

func (c *sqlCursor) Document() Document {
	return c.document
}

func (c *sqlCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}
