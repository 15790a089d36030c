package feeders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverSection struct {
	Host    string        `yaml:"host" json:"host" toml:"host" env:"HOST"`
	Port    int           `yaml:"port" json:"port" toml:"port" env:"PORT"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	Tags    []string      `yaml:"tags" json:"tags" toml:"tags" env:"TAGS"`
}

type fileConfig struct {
	Name   string        `yaml:"name" json:"name" toml:"name"`
	Server serverSection `yaml:"server" json:"server" toml:"server"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestYamlFeeder(t *testing.T) {
	path := writeFile(t, "config.yaml", `
name: echo
server:
  host: 0.0.0.0
  port: 8080
  timeout: 30s
  tags: [a, b]
`)

	t.Run("Feed", func(t *testing.T) {
		var cfg fileConfig
		require.NoError(t, NewYamlFeeder(path).Feed(&cfg))
		assert.Equal(t, "echo", cfg.Name)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
		assert.Equal(t, []string{"a", "b"}, cfg.Server.Tags)
	})

	t.Run("FeedKey", func(t *testing.T) {
		var server serverSection
		require.NoError(t, NewYamlFeeder(path).FeedKey("server", &server))
		assert.Equal(t, "0.0.0.0", server.Host)
	})

	t.Run("missing key leaves target untouched", func(t *testing.T) {
		server := serverSection{Host: "keep"}
		require.NoError(t, NewYamlFeeder(path).FeedKey("absent", &server))
		assert.Equal(t, "keep", server.Host)
	})

	t.Run("missing file", func(t *testing.T) {
		var cfg fileConfig
		err := NewYamlFeeder(filepath.Join(t.TempDir(), "nope.yaml")).Feed(&cfg)
		assert.ErrorIs(t, err, ErrFileNotFound)
	})
}

func TestTomlFeeder(t *testing.T) {
	path := writeFile(t, "config.toml", `
name = "echo"

[server]
host = "localhost"
port = 9090
tags = ["x"]
`)

	var cfg fileConfig
	require.NoError(t, NewTomlFeeder(path).Feed(&cfg))
	assert.Equal(t, "echo", cfg.Name)
	assert.Equal(t, 9090, cfg.Server.Port)

	var server serverSection
	require.NoError(t, NewTomlFeeder(path).FeedKey("server", &server))
	assert.Equal(t, "localhost", server.Host)
	assert.Equal(t, []string{"x"}, server.Tags)
}

func TestJSONFeeder(t *testing.T) {
	path := writeFile(t, "config.json", `{"name":"echo","server":{"host":"h","port":7070}}`)

	var cfg fileConfig
	require.NoError(t, NewJSONFeeder(path).Feed(&cfg))
	assert.Equal(t, 7070, cfg.Server.Port)

	var server serverSection
	require.NoError(t, NewJSONFeeder(path).FeedKey("server", &server))
	assert.Equal(t, "h", server.Host)

	bad := writeFile(t, "bad.json", `{`)
	assert.Error(t, NewJSONFeeder(bad).Feed(&cfg))
}

func TestAffixedEnvFeeder(t *testing.T) {
	t.Setenv("APP_HOST_SVC", "10.0.0.5")
	t.Setenv("APP_PORT_SVC", "8443")
	t.Setenv("APP_TIMEOUT_SVC", "5s")
	t.Setenv("APP_TAGS_SVC", "one, two")

	var server serverSection
	require.NoError(t, NewAffixedEnvFeeder("app", "svc").Feed(&server))
	assert.Equal(t, "10.0.0.5", server.Host)
	assert.Equal(t, 8443, server.Port)
	assert.Equal(t, 5*time.Second, server.Timeout)
	assert.Equal(t, []string{"one", "two"}, server.Tags)

	t.Run("variable names", func(t *testing.T) {
		assert.Equal(t, "E2E_TEST_RUNTIME_PATH", NewAffixedEnvFeeder("E2E_TEST", "").VarName("runtime_path"))
		assert.Equal(t, "PORT_SVC", NewAffixedEnvFeeder("", "svc").VarName("PORT"))
	})

	t.Run("requires an affix", func(t *testing.T) {
		assert.ErrorIs(t, NewAffixedEnvFeeder("", "").Feed(&server), ErrEnvEmptyPrefixAndSuffix)
	})

	t.Run("rejects non-struct targets", func(t *testing.T) {
		var s string
		assert.ErrorIs(t, NewAffixedEnvFeeder("app", "").Feed(&s), ErrEnvInvalidStructure)
	})

	t.Run("bad conversion", func(t *testing.T) {
		t.Setenv("BAD_PORT", "not-a-number")
		var s serverSection
		assert.Error(t, NewAffixedEnvFeeder("bad", "").Feed(&s))
	})
}

func TestForFile(t *testing.T) {
	for path, want := range map[string]any{
		"cfg.yaml": YamlFeeder{},
		"cfg.YML":  YamlFeeder{},
		"cfg.toml": TomlFeeder{},
		"cfg.json": JSONFeeder{},
	} {
		f, err := ForFile(path)
		require.NoError(t, err, path)
		assert.IsType(t, want, f, path)
	}

	_, err := ForFile("cfg.ini")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
