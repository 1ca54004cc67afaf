package beeodm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mysqlAuthor struct {
	ID   string `orm:"collection=mysql_authors;mysql;localCache"`
	Name string
}

type mysqlBook struct {
	ID      uint64 `orm:"collection=mysql_books;mysql"`
	Title   string
	Authors *MapReference[*mysqlAuthor]
}

func prepareMySQL(t *testing.T) Context {
	registry := NewRegistry()
	registry.RegisterMySQLPool("root:root@tcp(localhost:3306)/test", MySQLPoolOptions{MaxOpenConnections: 5})
	registry.RegisterLocalCache(100)
	c := PrepareEngine(t, registry, &mysqlAuthor{}, &mysqlBook{})
	store := c.Engine().MySQL()
	if err := store.Ping(c, time.Second); err != nil {
		t.Skipf("mysql not available: %s", err)
	}
	for _, collection := range []string{"mysql_authors", "mysql_books"} {
		assert.NoError(t, store.CreateCollection(c, collection))
		assert.NoError(t, store.TruncateCollection(c, collection))
	}
	return c
}

func TestMySQLStore(t *testing.T) {
	c := prepareMySQL(t)
	assert.Equal(t, 5, c.Engine().MySQL().DB().Stats().MaxOpenConnections)
	handler := &MockLogHandler{}
	c.RegisterQueryLogger(handler, true, false, false)

	assert.NoError(t, c.Engine().Save(c,
		&mysqlAuthor{ID: "tom", Name: "Tom"},
		&mysqlAuthor{ID: "ann", Name: "Ann"},
	))
	authors := NewMapReference[*mysqlAuthor](RawMap{{Key: "editor", Value: "ann"}, {Key: "writer", Value: "tom"}})
	assert.NoError(t, c.Engine().Save(c, &mysqlBook{ID: 1, Title: "Go", Authors: authors}))
	assert.Len(t, handler.Logs, 2)
	assert.Equal(t, "INSERT", handler.Logs[0]["operation"])
	assert.Equal(t, "mysql", handler.Logs[0]["source"])

	c.Engine().LocalCache().Clear(c)
	handler.Clear()
	books, err := NewListReference[*mysqlBook](1).Get(c)
	assert.NoError(t, err)
	assert.Len(t, books, 1)
	team, err := books[0].Authors.Get(c)
	assert.NoError(t, err)
	assert.Equal(t, []string{"editor", "writer"}, team.Keys())
	editor, _ := team.Get("editor")
	assert.Equal(t, "Ann", editor.Name)
	assert.Len(t, handler.Logs, 2)
	assert.Equal(t, "SELECT", handler.Logs[1]["operation"])

	handler.Clear()
	_, err = NewSingleReference[*mysqlAuthor]("tom").Get(c)
	assert.NoError(t, err)
	assert.Len(t, handler.Logs, 0)

	assert.NoError(t, c.Engine().Save(c, &mysqlAuthor{ID: "tom", Name: "Thomas"}))
	c.Engine().LocalCache().Clear(c)
	author, err := NewSingleReference[*mysqlAuthor]("tom").Get(c)
	assert.NoError(t, err)
	assert.Equal(t, "Thomas", author.Name)

	assert.NoError(t, c.Engine().Delete(c, &mysqlAuthor{ID: "tom"}))
	_, err = NewSingleReference[*mysqlAuthor]("tom").Get(c)
	var notFound *ReferenceNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
