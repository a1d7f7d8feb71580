package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "promotion-panel", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "configs/rules.yaml", cfg.Rules.Path)
	assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "admin", cfg.Bootstrap.AdminUser)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PP_DB_DRIVER", "sqlite")
	t.Setenv("PP_DB_SQLITE_PATH", "/tmp/panel.db")
	t.Setenv("PP_RULES_PATH", "/etc/panel/rules.yaml")
	t.Setenv("PP_SERVER_PORT", "8181")
	t.Setenv("PP_BOOTSTRAP_APPROVER_USER", "ceo")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/panel.db", cfg.Database.SQLitePath)
	assert.Equal(t, "/etc/panel/rules.yaml", cfg.Rules.Path)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "ceo", cfg.Bootstrap.ApproverUser)
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("PP_SERVER_PORT", "not-an-int")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("PP_DB_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported database driver "mysql"`)
}

func TestValidateRejectsSharedPorts(t *testing.T) {
	t.Setenv("PP_SERVER_GRPC_PORT", "8080")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ports must differ")
}
