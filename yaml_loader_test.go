package beeodm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

const testYaml = `
default:
  mysql:
    uri: root:root@tcp(localhost:3306)/test
    ConnMaxLifetime: 60
    MaxOpenConnections: 10
    MaxIdleConnections: 5
  redis: localhost:6379:0
  local_cache: 1000
second:
  redis: localhost:6380:3:test_namespace?user=user&password=pass
  memory: true
socket:
  redis: /var/run/redis.sock:2
`

func TestYamlLoader(t *testing.T) {
	var parsedYaml map[string]interface{}
	err := yaml.Unmarshal([]byte(testYaml), &parsedYaml)
	assert.NoError(t, err)

	registry := NewRegistry()
	registry.InitByYaml(parsedYaml)
	mysqlPool := registry.mysqlPools["default"]
	assert.NotNil(t, mysqlPool)
	assert.Equal(t, "test", mysqlPool.GetDatabase())
	assert.Equal(t, "root:root@tcp(localhost:3306)/test", mysqlPool.GetDataSourceURI())
	assert.Equal(t, MySQLPoolOptions{ConnMaxLifetime: time.Minute, MaxOpenConnections: 10, MaxIdleConnections: 5}, mysqlPool.GetOptions())
	assert.Equal(t, 1000, registry.localCachePools["default"].GetLimit())

	assert.Equal(t, "localhost:6379", registry.redisPools["default"].GetAddress())
	assert.False(t, registry.redisPools["default"].HasNamespace())
	second := registry.redisPools["second"]
	assert.Equal(t, "localhost:6380", second.GetAddress())
	assert.Equal(t, 3, second.GetDatabase())
	assert.Equal(t, "test_namespace", second.GetNamespace())
	assert.Equal(t, "user", second.options.Username)
	assert.Equal(t, "pass", second.options.Password)
	assert.True(t, registry.memoryPools["second"])
	socket := registry.redisPools["socket"]
	assert.Equal(t, "/var/run/redis.sock", socket.GetAddress())
	assert.Equal(t, "unix", socket.options.Network)
	assert.Equal(t, 2, socket.GetDatabase())

	engine, err := registry.Validate()
	assert.NoError(t, err)
	assert.Equal(t, "test", engine.MySQL().GetConfig().GetDatabase())
	assert.Equal(t, "second", engine.Redis("second").GetConfig().GetCode())
	assert.NotNil(t, engine.MemoryStore("second"))

	invalidYaml := map[string]interface{}{"test": "invalid"}
	assert.PanicsWithError(t, "odm yaml key odm is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
	invalidYaml = map[string]interface{}{"default": map[string]interface{}{"redis": "invalid"}}
	assert.PanicsWithError(t, "redis uri 'invalid' is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
	invalidYaml = map[string]interface{}{"default": map[string]interface{}{"redis": "localhost:6379:zero"}}
	assert.PanicsWithError(t, "redis uri 'localhost:6379:zero' is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
	invalidYaml = map[string]interface{}{"default": map[string]interface{}{"redis": []int{1}}}
	assert.PanicsWithError(t, "redis uri '[1]' is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
	invalidYaml = map[string]interface{}{"default": map[string]interface{}{"mysql": map[string]interface{}{}}}
	assert.PanicsWithError(t, "mysql uri 'map[]' is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
	invalidYaml = map[string]interface{}{"default": map[string]interface{}{"local_cache": "test"}}
	assert.PanicsWithError(t, "odm value for default: test is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
	invalidYaml = map[string]interface{}{"default": map[string]interface{}{"memory": "yes"}}
	assert.PanicsWithError(t, "odm value for default: yes is not valid", func() {
		NewRegistry().InitByYaml(invalidYaml)
	})
}

func TestLoadYamlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(testYaml), 0600))
	registry := NewRegistry()
	assert.NoError(t, registry.LoadYamlFile(path))
	assert.Len(t, registry.redisPools, 3)

	err := NewRegistry().LoadYamlFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	assert.NoError(t, os.WriteFile(broken, []byte("default: [a"), 0600))
	assert.Error(t, NewRegistry().LoadYamlFile(broken))
}
