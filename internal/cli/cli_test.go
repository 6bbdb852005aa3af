package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/settle"
	"github.com/xraph/settle/config"
	"github.com/xraph/settle/types"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settle.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")

	stdout, _, err := executeCLI(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+path)

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPort, got.Port)
	assert.Equal(t, config.DriverMemory, got.Store.Driver)
	assert.Equal(t, config.Default().Engine.HookTimeout, got.Engine.HookTimeout)

	_, _, err = executeCLI(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = executeCLI(t, "config", "init", "--force", path)
	require.NoError(t, err)
}

func TestConfigShowLayersFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
port = 7000

[store]
driver = "sqlite"
dsn = "file:from-file.db"

[log]
level = "debug"
`)
	t.Setenv("SETTLE_DSN", "file:from-env.db")
	t.Setenv("SETTLE_LOG_LEVEL", "warn")

	stdout, _, err := executeCLI(t, "config", "show", "--config", path, "--log-level", "error")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, config.Read(strings.NewReader(stdout), &cfg))
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "file:from-env.db", cfg.Store.DSN)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestConfigShowFindsLocalFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settle.toml"), []byte("port = 7100\n"), 0o600))

	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"config", "show"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "port = 7100")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	_, _, err := executeCLI(t, "config", "show", "--store", "postgres")
	require.Error(t, err)
	assert.ErrorIs(t, err, settle.ErrInvalidConfiguration)
}

func TestMigrateSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "settle.db")
	stdout, _, err := executeCLI(t, "migrate", "--store", "sqlite", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, stdout, "migrated sqlite store")
}

func TestServerServesAPIAndMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.OpeningBalance = "1000"
	cfg.Engine.Administrators = []string{"0x00000000000000000000000000000000000000ad"}
	require.NoError(t, cfg.Validate())

	var logs bytes.Buffer
	srv, err := newServer(context.Background(), cfg, &logs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close(context.Background()) })

	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	recipient := "0x00000000000000000000000000000000000000b1"
	resp, err = http.Post(ts.URL+"/sessions/S1/finalize", "application/json",
		strings.NewReader(`{"amount":"250","recipient":"`+recipient+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bal, err := srv.vault.BalanceOf(context.Background(), types.MustParseAddress(recipient))
	require.NoError(t, err)
	assert.EqualValues(t, 250, bal)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "settle_transfer_executed_total 1")
	assert.Contains(t, string(body), "go_goroutines")

	assert.Contains(t, logs.String(), "transfer.executed")
}
