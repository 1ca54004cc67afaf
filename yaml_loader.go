package beeodm

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// LoadYamlFile reads pool definitions from yaml file, see InitByYaml.
func (r *Registry) LoadYamlFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	var parsed map[string]interface{}
	if err = yaml.Unmarshal(data, &parsed); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	r.InitByYaml(parsed)
	return nil
}

// InitByYaml registers pools defined in yaml, one top level key per pool code.
// It panics when definition is not valid.
func (r *Registry) InitByYaml(yaml map[string]interface{}) {
	for key, data := range yaml {
		dataAsMap := fixYamlMap(data, "odm")
		for dataKey, value := range dataAsMap {
			switch dataKey {
			case "mysql":
				validateOdmMysqlURI(r, value, key)
			case "redis":
				validateRedisURI(r, value, key)
			case "local_cache":
				number := validateOdmInt(value, key)
				r.RegisterLocalCache(number, key)
			case "memory":
				if validateOdmBool(value, key) {
					r.RegisterMemoryStore(key)
				}
			}
		}
	}
}

func validateOdmMysqlURI(registry *Registry, value interface{}, key string) {
	def := fixYamlMap(value, key)
	uri := ""
	options := MySQLPoolOptions{}
	for k, v := range def {
		switch k {
		case "uri":
			uri = validateOdmString(v, "uri")
		case "ConnMaxLifetime":
			options.ConnMaxLifetime = time.Duration(validateOdmInt(v, "ConnMaxLifetime")) * time.Second
		case "MaxOpenConnections":
			options.MaxOpenConnections = validateOdmInt(v, "MaxOpenConnections")
		case "MaxIdleConnections":
			options.MaxIdleConnections = validateOdmInt(v, "MaxIdleConnections")
		}
	}
	if uri == "" {
		panic(fmt.Errorf("mysql uri '%v' is not valid", value))
	}
	registry.RegisterMySQLPool(uri, options, key)
}

// validateRedisURI accepts host:port:db, host:port:db:namespace and socket:db[:namespace],
// optionally followed by ?user=...&password=...
func validateRedisURI(registry *Registry, value interface{}, key string) {
	asString, ok := value.(string)
	if !ok {
		panic(fmt.Errorf("redis uri '%v' is not valid", value))
	}
	parts := strings.Split(asString, "?")
	elements := strings.Split(parts[0], ":")
	isSocket := strings.Contains(parts[0], ".sock")
	address := elements[0]
	rest := elements[1:]
	if !isSocket {
		if len(elements) < 3 {
			panic(fmt.Errorf("redis uri '%v' is not valid", value))
		}
		address += ":" + elements[1]
		rest = elements[2:]
	}
	if len(rest) == 0 || len(rest) > 2 {
		panic(fmt.Errorf("redis uri '%v' is not valid", value))
	}
	db, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		panic(fmt.Errorf("redis uri '%v' is not valid", value))
	}
	namespace := ""
	if len(rest) == 2 {
		namespace = rest[1]
	}
	if len(parts) == 2 && parts[1] != "" {
		values, err := url.ParseQuery(parts[1])
		if err != nil {
			panic(fmt.Errorf("redis uri '%v' is not valid", value))
		}
		if values.Has("user") && values.Has("password") {
			registry.RegisterRedisWithCredentials(address, namespace, values.Get("user"), values.Get("password"), int(db), key)
			return
		}
	}
	registry.RegisterRedis(address, namespace, int(db), key)
}

func fixYamlMap(value interface{}, key string) map[string]interface{} {
	def, ok := value.(map[string]interface{})
	if !ok {
		def2, ok := value.(map[interface{}]interface{})
		if !ok {
			panic(fmt.Errorf("odm yaml key %s is not valid", key))
		}
		def = make(map[string]interface{})
		for k, v := range def2 {
			def[fmt.Sprintf("%v", k)] = v
		}
	}
	return def
}

func validateOdmInt(value interface{}, key string) int {
	asInt, ok := value.(int)
	if !ok {
		panic(fmt.Errorf("odm value for %s: %v is not valid", key, value))
	}
	return asInt
}

func validateOdmBool(value interface{}, key string) bool {
	asBool, ok := value.(bool)
	if !ok {
		panic(fmt.Errorf("odm value for %s: %v is not valid", key, value))
	}
	return asBool
}

func validateOdmString(value interface{}, key string) string {
	asString, ok := value.(string)
	if !ok {
		panic(fmt.Errorf("odm value for %s: %v is not valid", key, value))
	}
	return asString
}
