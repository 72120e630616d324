package jstest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-testproxy/internal/fixture"
	"github.com/joeycumines/go-testproxy/internal/scripting"
)

func run(t *testing.T, opts Options, src string) []Result {
	t.Helper()
	results, err := New(opts).Run(context.Background(), "inline.js", src)
	require.NoError(t, err)
	return results
}

func byName(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.FullName()] = r
	}
	return m
}

func TestRunFile_ProxySuite(t *testing.T) {
	t.Parallel()
	results, err := New(Options{}).RunFile(context.Background(), filepath.Join("testdata", "proxy_test.js"))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Passed, "%s: %v", r.FullName(), r.Err)
		assert.Equal(t, "TestBrowserProxy", r.Suite)
	}
}

func TestRun_FailuresAreReported(t *testing.T) {
	t.Parallel()
	results := byName(run(t, Options{}, `
test('equals', () => assertEquals(1, 2));
test('deep', () => assertDeepEquals({a: [1]}, {a: [2]}, 'payload'));
test('truthy', () => assertTrue(0));
test('falsy', () => assertFalse('x'));
test('throws', () => assertThrows(() => {}));
test('async', async () => { await null; throw new Error('later'); });
test('passes', () => assertDeepEquals({a: [1]}, {a: [1]}));
`))

	for name, want := range map[string]string{
		"equals": "AssertionError: expected 1, got 2",
		"deep":   `AssertionError: payload: expected {"a":[1]}, got {"a":[2]}`,
		"truthy": "AssertionError: expected truthy value, got 0",
		"falsy":  `AssertionError: expected falsy value, got "x"`,
		"throws": "AssertionError: expected function to throw",
		"async":  "Error: later",
	} {
		r := results[name]
		assert.False(t, r.Passed, name)
		var re *scripting.RejectionError
		if assert.ErrorAs(t, r.Err, &re, name) {
			assert.Equal(t, want, re.Message, name)
		}
	}
	assert.True(t, results["passes"].Passed)
}

func TestRun_AssertThrowsMatchers(t *testing.T) {
	t.Parallel()
	results := byName(run(t, Options{}, `
test('constructor', () => {
  const e = assertThrows(() => { throw new RangeError('out'); }, RangeError);
  assertEquals('out', e.message);
});
test('substring', () => assertThrows(() => { throw new Error('bad pin'); }, 'pin'));
test('wrong constructor', () => assertThrows(() => { throw new Error('x'); }, TypeError));
test('wrong message', () => assertThrows(() => { throw new Error('x'); }, 'pin'));
`))
	assert.True(t, results["constructor"].Passed, "%v", results["constructor"].Err)
	assert.True(t, results["substring"].Passed, "%v", results["substring"].Err)
	assert.ErrorContains(t, results["wrong constructor"].Err, "expected TypeError to be thrown")
	assert.ErrorContains(t, results["wrong message"].Err, `expected error containing "pin"`)
}

func TestRun_UnfulfilledWaitTimesOut(t *testing.T) {
	t.Parallel()
	results := run(t, Options{Timeout: 50 * time.Millisecond}, `
const {TestBrowserProxy} = require('testproxy:proxy');
test('never called', async () => {
  const proxy = new TestBrowserProxy(['save']);
  console.log('waiting for save');
  await proxy.whenCalled('save');
});
test('next case still runs', () => {});
`)
	require.Len(t, results, 2)
	assert.False(t, results[0].Passed)
	assert.True(t, errors.Is(results[0].Err, ErrTimeout))
	assert.EqualError(t, results[0].Err, "test timed out after 50ms")

	var logged bool
	for _, e := range results[0].Logs {
		if e.Message == "waiting for save" {
			logged = true
		}
	}
	assert.True(t, logged, "log tail should include console output")
	assert.True(t, results[1].Passed)
	assert.Empty(t, results[1].Logs)
}

func TestRun_HookOrder(t *testing.T) {
	t.Parallel()
	results := run(t, Options{}, `
const order = [];
setup(() => order.push('root setup'));
teardown(() => {
  order.push('root teardown');
  assertDeepEquals([
    'root setup', 'outer setup', 'inner setup', 'body',
    'inner teardown', 'outer teardown', 'root teardown',
  ], order);
});
suite('outer', () => {
  setup(async () => { await flushTasks(); order.push('outer setup'); });
  teardown(() => order.push('outer teardown'));
  suite('inner', () => {
    setup(() => order.push('inner setup'));
    teardown(() => order.push('inner teardown'));
    test('body', () => order.push('body'));
  });
});
`)
	require.Len(t, results, 1)
	assert.Equal(t, "outer > inner > body", results[0].FullName())
	assert.True(t, results[0].Passed, "%v", results[0].Err)
}

func TestRun_TeardownRunsAfterFailure(t *testing.T) {
	t.Parallel()
	results := run(t, Options{}, `
teardown(() => console.log('torn down'));
test('fails', () => assertTrue(false));
`)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	require.NotEmpty(t, results[0].Logs)
	assert.Equal(t, "torn down", results[0].Logs[len(results[0].Logs)-1].Message)
}

func TestRun_Only(t *testing.T) {
	t.Parallel()
	results := run(t, Options{}, `
test('skipped', () => assertTrue(false));
test.only('focused', () => {});
`)
	require.Len(t, results, 1)
	assert.Equal(t, "focused", results[0].Name)
}

func TestRun_CasesDoNotShareState(t *testing.T) {
	t.Parallel()
	results := run(t, Options{}, `
const {TestBrowserProxy, seam} = require('testproxy:proxy');
const shared = new TestBrowserProxy(['ping']);
const s = seam('pinger');
let counter = 0;
test('first', () => {
  shared.methodCalled('ping');
  s.setInstance(shared);
  counter++;
});
test('second', () => {
  assertEquals(0, shared.getCallCount('ping'));
  assertEquals(undefined, s.getInstance());
  assertEquals(0, counter);
});
`)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Passed, "%s: %v", r.Name, r.Err)
	}
}

func TestRun_TimedOutCaseDoesNotLeak(t *testing.T) {
	t.Parallel()
	results := run(t, Options{Timeout: 100 * time.Millisecond}, `
let leaked = 0;
test('hangs', async () => {
  setTimeout(() => { leaked++; }, 150);
  await new Promise(() => {});
});
test('after', async () => {
  await new Promise(r => setTimeout(r, 200));
  assertEquals(0, leaked, 'state from the timed-out case');
});
`)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, ErrTimeout)
	assert.True(t, results[1].Passed, "%v", results[1].Err)
}

func TestRun_Fixtures(t *testing.T) {
	t.Parallel()
	fixtures, err := fixture.Parse([]byte(`
proxies:
  keys:
    responses:
      getPIN: "1234"
`))
	require.NoError(t, err)
	results := run(t, Options{Fixtures: fixtures}, `
const {TestBrowserProxy} = require('testproxy:proxy');
test('fixture', async () => {
  const proxy = new TestBrowserProxy(['getPIN'], {fixture: 'keys'});
  assertEquals('1234', await proxy.getResultFor('getPIN'));
});
`)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed, "%v", results[0].Err)
}

func TestRun_FixtureProxyAnswersAfterReset(t *testing.T) {
	t.Parallel()
	fixtures, err := fixture.Parse([]byte(`
proxies:
  keys:
    responses:
      getPIN: "1234"
`))
	require.NoError(t, err)
	results := run(t, Options{Fixtures: fixtures, Timeout: time.Second}, `
const {TestBrowserProxy} = require('testproxy:proxy');
const proxy = new TestBrowserProxy(['getPIN'], {fixture: 'keys'});
test('first', async () => {
  assertEquals('1234', await proxy.getResultFor('getPIN'));
});
test('second', async () => {
  assertEquals('1234', await proxy.getResultFor('getPIN'));
});
test('explicit reset', async () => {
  await proxy.getResultFor('getPIN');
  proxy.reset();
  assertEquals('1234', await proxy.getResultFor('getPIN'));
});
`)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Passed, "%s: %v", r.Name, r.Err)
	}
}

func TestRun_LoadErrors(t *testing.T) {
	t.Parallel()
	_, err := New(Options{}).Run(context.Background(), "broken.js", `test('x', () => {`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.js")

	_, err = New(Options{}).Run(context.Background(), "bad.js", `test('x', 42)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test: argument 2 must be a function")
}

func TestRunFiles_ContinuesAfterLoadError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.js")
	require.NoError(t, os.WriteFile(good, []byte(`test('ok', () => {});`), 0o644))

	results := New(Options{}).RunFiles(context.Background(), filepath.Join(dir, "missing.js"), good)
	require.Len(t, results, 2)
	assert.Equal(t, "(load)", results[0].Name)
	assert.False(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.Equal(t, good, results[1].File)
}

func TestReporter(t *testing.T) {
	t.Parallel()
	results := []Result{
		{File: "a.js", Suite: "s", Name: "ok", Passed: true, Duration: time.Millisecond},
		{
			File: "a.js", Suite: "s", Name: "bad",
			Err:  errors.New("AssertionError: expected 1, got 2"),
			Logs: []scripting.LogEntry{{Message: "hello"}},
		},
	}

	var buf bytes.Buffer
	s := NewReporter(&buf, false, true).Report(results)
	assert.Equal(t, Summary{Passed: 1, Failed: 1, Duration: time.Millisecond}, s)
	assert.False(t, s.Ok())
	assert.Equal(t, `PASS s > ok (0.001s)
FAIL s > bad (a.js)
    AssertionError: expected 1, got 2
    log tail:
      INFO hello
FAILED 1 passed, 1 failed (0.001s)
`, buf.String())

	buf.Reset()
	s = NewReporter(&buf, false, false).Report(results[:1])
	assert.True(t, s.Ok())
	assert.Equal(t, "ok 1 passed (0.001s)\n", buf.String())
}
