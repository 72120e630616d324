package command

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-testproxy/internal/config"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewHelpCommand(r))
	r.Register(NewVersionCommand("1.0.0"))
	r.Register(NewConfigCommand(config.NewConfig(), ""))
	r.Register(NewRunCommand(nil))
	r.Register(NewServeCommand(nil))
	return r
}

func TestHelpCommand_General(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	help, err := r.Get("help")
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	require.NoError(t, help.Execute(nil, &stdout, &stderr))

	out := stdout.String()
	for _, part := range []string{
		"Usage: testproxy <command>",
		"Available commands:",
		"run",
		"Run JavaScript tests that use TestBrowserProxy doubles",
		"serve",
		"version",
	} {
		assert.Contains(t, out, part)
	}
	assert.Empty(t, stderr.String())
}

func TestHelpCommand_Command(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	help, err := r.Get("help")
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	require.NoError(t, help.Execute([]string{"serve"}, &stdout, &stderr))
	out := stdout.String()
	assert.Contains(t, out, "Command: serve")
	assert.Contains(t, out, "Usage: serve -descriptor set.pb -service pkg.Service [options]")
	assert.Contains(t, out, "Flags:")
	assert.Contains(t, out, "-descriptor")
	assert.Contains(t, out, "-fixture")

	stdout.Reset()
	require.NoError(t, help.Execute([]string{"version"}, &stdout, &stderr))
	assert.NotContains(t, stdout.String(), "Flags:")
}

func TestHelpCommand_Unknown(t *testing.T) {
	t.Parallel()
	help := NewHelpCommand(NewRegistry())
	var stdout, stderr bytes.Buffer
	assert.Error(t, help.Execute([]string{"nope"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown command: nope")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	cmd := NewVersionCommand("1.2.3")

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute(nil, &stdout, &stderr))
	assert.Equal(t, "testproxy version 1.2.3\n", stdout.String())

	assert.Error(t, cmd.Execute([]string{"extra"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unexpected arguments")
}

func TestConfigCommand_Usage(t *testing.T) {
	t.Parallel()
	cmd := NewConfigCommand(config.NewConfig(), "")
	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute(nil, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "config <key> <value>")
}

func TestConfigCommand_GetAndSet(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cmd := NewConfigCommand(cfg, "")

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{"run.timeout", "10s"}, &stdout, &stderr))
	assert.Equal(t, "Set configuration: run.timeout = 10s\n", stdout.String())
	assert.Empty(t, stderr.String())

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{"run.timeout"}, &stdout, &stderr))
	assert.Equal(t, "run.timeout: 10s\n", stdout.String())

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{"run.log-tail"}, &stdout, &stderr))
	assert.Equal(t, "run.log-tail: 50 (default)\n", stdout.String())

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{"no.such.key"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), `"no.such.key" not found`)

	assert.Error(t, cmd.Execute([]string{"a", "b", "c"}, &stdout, &stderr))
}

func TestConfigCommand_SetUnknownWarns(t *testing.T) {
	t.Parallel()
	cmd := NewConfigCommand(config.NewConfig(), "")
	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{"custom", "x"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown configuration key "custom"`)
}

func TestConfigCommand_Persists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config")
	cmd := NewConfigCommand(config.NewConfig(), path)

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{"serve.listen", "127.0.0.1:9000"}, &stdout, &stderr))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "serve.listen 127.0.0.1:9000\n", string(data))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	v, ok := loaded.Get("serve.listen")
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:9000", v)
}

func TestConfigCommand_All(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.Set("log.level", "debug")
	cfg.SetIn("run", "verbose", "true")
	cmd := NewConfigCommand(cfg, "")
	cmd.showAll = true

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute(nil, &stdout, &stderr))
	assert.Equal(t, "Global configuration:\n  log.level: debug\n[run]\n  verbose: true\n", stdout.String())
}

func TestConfigCommand_Schema(t *testing.T) {
	t.Parallel()
	cmd := NewConfigCommand(config.NewConfig(), "")
	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{"schema"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "run.timeout")
	assert.Contains(t, stdout.String(), "TESTPROXY_RUN_TIMEOUT")
}

func TestConfigCommand_Validate(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Set("run.timeout", "5s")
	var stdout, stderr bytes.Buffer
	require.NoError(t, NewConfigCommand(cfg, "").Execute([]string{"validate"}, &stdout, &stderr))
	assert.Equal(t, "Configuration is valid\n", stdout.String())

	cfg.Set("run.timeout", "soon")
	stdout.Reset()
	err := NewConfigCommand(cfg, "").Execute([]string{"validate"}, &stdout, &stderr)
	assert.EqualError(t, err, "configuration has 1 problem(s)")
	assert.Contains(t, stderr.String(), `"run.timeout"`)
}
