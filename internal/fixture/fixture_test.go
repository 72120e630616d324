package fixture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joeycumines/go-testproxy"
)

const sample = `
proxies:
  securityKeys:
    responses:
      startSetPIN: 4
      getInfo:
        name: key
        versions: [2, 3]
    errors:
      setPIN: {code: INVALID_ARGUMENT, message: pin rejected}
      close: {message: plain}
`

func TestParse(t *testing.T) {
	t.Parallel()
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	p, ok := f.Proxy("securityKeys")
	require.True(t, ok)
	assert.Equal(t, 4, p.Responses["startSetPIN"])
	assert.Equal(t, map[string]any{"name": "key", "versions": []any{2, 3}}, p.Responses["getInfo"])
	assert.Equal(t, Error{Code: "INVALID_ARGUMENT", Message: "pin rejected"}, p.Errors["setPIN"])

	_, ok = f.Proxy("missing")
	assert.False(t, ok)

	var nilFile *File
	_, ok = nilFile.Proxy("securityKeys")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("proxies: [not, a, map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("proxies:\n  p:\n    errors:\n      m: {code: Nope}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope")
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.NotNil(t, f.Proxies)
}

func TestParseCode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]codes.Code{
		"NotFound":          codes.NotFound,
		"NOT_FOUND":         codes.NotFound,
		"ok":                codes.OK,
		"DEADLINE_EXCEEDED": codes.DeadlineExceeded,
		"Unauthenticated":   codes.Unauthenticated,
	} {
		got, err := ParseCode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCode("bogus")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, f.Proxies, "securityKeys")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	p, _ := f.Proxy("securityKeys")

	rec := testproxy.New("startSetPIN", "getInfo", "setPIN", "close")
	require.NoError(t, Apply(rec, p, nil))

	// persistent: every call gets the same answer
	for i := 0; i < 2; i++ {
		v, err := testproxy.Await[int](ctx, rec.Respond("startSetPIN"))
		require.NoError(t, err)
		assert.Equal(t, 4, v)
	}

	_, err = rec.Respond("setPIN").Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = rec.Respond("close").Wait(ctx)
	assert.EqualError(t, err, "plain")
}

func TestApply_Convert(t *testing.T) {
	t.Parallel()
	rec := testproxy.New("startSetPIN")
	err := Apply(rec, Proxy{Responses: map[string]any{"startSetPIN": 4}}, func(v any) any {
		return []any{v}
	})
	require.NoError(t, err)
	v, err := rec.Respond("startSetPIN").Value()
	require.NoError(t, err)
	assert.Equal(t, []any{4}, v)
}

func TestApply_UnknownMethod(t *testing.T) {
	t.Parallel()
	rec := testproxy.New("a")
	err := Apply(rec, Proxy{Responses: map[string]any{"a": 1, "b": 2}}, nil)
	require.ErrorIs(t, err, testproxy.ErrUnknownMethod)
	assert.False(t, rec.Respond("a").Ok(), "nothing installed on failure")

	err = Apply(rec, Proxy{Errors: map[string]Error{"c": {Message: "x"}}}, nil)
	assert.ErrorIs(t, err, testproxy.ErrUnknownMethod)

	err = Apply(rec, Proxy{
		Responses: map[string]any{"a": 1},
		Errors:    map[string]Error{"a": {Message: "x"}},
	}, nil)
	assert.Error(t, err)
}
