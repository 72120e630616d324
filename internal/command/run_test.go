package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-testproxy/internal/config"
)

const passingJS = `
const {TestBrowserProxy} = require('testproxy:proxy');

suite('Keys', () => {
  let proxy;
  setup(() => { proxy = new TestBrowserProxy(['getInfo']); });

  test('records calls', async () => {
    const waiting = proxy.whenCalled('getInfo');
    proxy.methodCalled('getInfo', 'k1');
    assertEquals('k1', await waiting);
    assertEquals(1, proxy.getCallCount('getInfo'));
  });
});
`

const failingJS = `
const {TestBrowserProxy} = require('testproxy:proxy');

test('wrong count', () => {
  const proxy = new TestBrowserProxy(['close']);
  console.log('about to check');
  assertEquals(2, proxy.getCallCount('close'));
});
`

const fixtureJS = `
const {TestBrowserProxy} = require('testproxy:proxy');

test('fixture responses', async () => {
  const proxy = new TestBrowserProxy(['getInfo'], {fixture: 'keys'});
  assertEquals('from fixture', (await proxy.getResultFor('getInfo')).name);
});
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newRunCommand(cfg *config.Config) *RunCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	cmd := NewRunCommand(cfg)
	cmd.color = "never"
	cmd.ctxFactory = func() (context.Context, context.CancelFunc) {
		return context.WithCancel(context.Background())
	}
	return cmd
}

func TestRunCommand_Pass(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "keys_test.js", passingJS)

	cmd := newRunCommand(nil)
	cmd.verbose = true
	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{path}, &stdout, &stderr))

	assert.Contains(t, stdout.String(), "PASS Keys > records calls")
	assert.Contains(t, stdout.String(), "ok 1 passed")
}

func TestRunCommand_Fail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a_test.js", passingJS)
	writeFile(t, dir, "sub/b_test.js", failingJS)
	writeFile(t, dir, "helper.js", `throw new Error("not a test file")`)

	cmd := newRunCommand(nil)
	var stdout, stderr bytes.Buffer
	err := cmd.Execute([]string{dir}, &stdout, &stderr)
	assert.ErrorIs(t, err, ErrTestsFailed)

	out := stdout.String()
	assert.NotContains(t, out, "PASS")
	assert.Contains(t, out, "FAIL wrong count")
	assert.Contains(t, out, "b_test.js")
	assert.Contains(t, out, "about to check")
	assert.Contains(t, out, "FAILED 1 passed, 1 failed")
	assert.NotContains(t, out, "not a test file")
}

func TestRunCommand_VerboseFromConfig(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "keys_test.js", passingJS)

	cfg := config.NewConfig()
	cfg.SetIn("run", "verbose", "true")
	var stdout, stderr bytes.Buffer
	require.NoError(t, newRunCommand(cfg).Execute([]string{path}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "PASS Keys > records calls")
}

func TestRunCommand_Fixtures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "fixture_test.js", fixtureJS)
	fixtures := writeFile(t, dir, "fixtures.yaml", "proxies:\n  keys:\n    responses:\n      getInfo: {name: from fixture}\n")

	t.Run("flag", func(t *testing.T) {
		cmd := newRunCommand(nil)
		cmd.fixtures = fixtures
		var stdout, stderr bytes.Buffer
		require.NoError(t, cmd.Execute([]string{path}, &stdout, &stderr), stdout.String())
	})

	t.Run("config section", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.SetIn("run", "fixtures", fixtures)
		var stdout, stderr bytes.Buffer
		require.NoError(t, newRunCommand(cfg).Execute([]string{path}, &stdout, &stderr), stdout.String())
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := newRunCommand(nil)
		cmd.fixtures = filepath.Join(dir, "nope.yaml")
		var stdout, stderr bytes.Buffer
		assert.Error(t, cmd.Execute([]string{path}, &stdout, &stderr))
	})
}

func TestRunCommand_Errors(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer

	assert.EqualError(t, newRunCommand(nil).Execute(nil, &stdout, &stderr), "no test files")
	assert.Error(t, newRunCommand(nil).Execute([]string{filepath.Join(t.TempDir(), "missing.js")}, &stdout, &stderr))

	path := writeFile(t, t.TempDir(), "keys_test.js", passingJS)
	cmd := newRunCommand(nil)
	cmd.color = "sometimes"
	assert.EqualError(t, cmd.Execute([]string{path}, &stdout, &stderr), "invalid color mode: sometimes")

	cfg := config.NewConfig()
	cfg.SetIn("run", "timeout", "whenever")
	assert.ErrorContains(t, newRunCommand(cfg).Execute([]string{path}, &stdout, &stderr), "expected duration")
}

func TestRunCommand_Cancelled(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "keys_test.js", passingJS)

	cmd := newRunCommand(nil)
	cmd.ctxFactory = func() (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, cancel
	}
	var stdout, stderr bytes.Buffer
	assert.ErrorIs(t, cmd.Execute([]string{path}, &stdout, &stderr), context.Canceled)
}

func TestCollectTestFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b := writeFile(t, dir, "b_test.js", "")
	a := writeFile(t, dir, "nested/a_test.js", "")
	writeFile(t, dir, "other.js", "")
	explicit := writeFile(t, t.TempDir(), "plain.js", "")

	files, err := collectTestFiles([]string{explicit, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{explicit, b, a}, files)
}

func TestUseColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	for _, tc := range []struct {
		flag, config string
		want         bool
	}{
		{"always", "never", true},
		{"never", "always", false},
		{"", "always", true},
		{"", "", false},
		{"auto", "", false},
	} {
		got, err := useColor(tc.flag, tc.config, &buf)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "flag=%q config=%q", tc.flag, tc.config)
	}
}
