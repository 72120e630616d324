// Package fixture loads canned responses for test doubles from YAML files.
//
// A fixture file names one or more proxies, each with per-method responses
// and errors:
//
//	proxies:
//	  securityKeys:
//	    responses:
//	      startSetPIN: 4
//	      getInfo: {name: "key", versions: [2, 3]}
//	    errors:
//	      setPIN: {code: InvalidArgument, message: "pin rejected"}
//
// Fixture responses are persistent: every call to a method answers with the
// same value, unlike one-shot responses registered in code.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/joeycumines/go-testproxy"
)

// File is a parsed fixture file.
type File struct {
	Proxies map[string]Proxy `yaml:"proxies"`
}

// Proxy holds the canned behaviour for one double.
type Proxy struct {
	Responses map[string]any   `yaml:"responses"`
	Errors    map[string]Error `yaml:"errors"`
}

// Error describes a canned failure. Code is a gRPC code name (e.g.
// "NotFound"); when empty the error is a plain error carrying Message.
type Error struct {
	Code    string `yaml:"code"`
	Message string `yaml:"message"`
}

// Err converts e to an error, a gRPC status error when Code is set.
func (e Error) Err() error {
	if e.Code == "" {
		return errors.New(e.Message)
	}
	c, _ := ParseCode(e.Code)
	return status.Error(c, e.Message)
}

// ParseCode maps a gRPC code name, in either "NotFound" or "NOT_FOUND" form,
// to its code.
func ParseCode(name string) (codes.Code, error) {
	norm := strings.ReplaceAll(strings.ToLower(name), "_", "")
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		if strings.ToLower(c.String()) == norm {
			return c, nil
		}
	}
	return codes.Unknown, fmt.Errorf("unknown status code %q", name)
}

// Load reads and parses a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses fixture YAML and validates error codes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if f.Proxies == nil {
		f.Proxies = make(map[string]Proxy)
	}
	for id, p := range f.Proxies {
		for method, e := range p.Errors {
			if e.Code == "" {
				continue
			}
			if _, err := ParseCode(e.Code); err != nil {
				return nil, fmt.Errorf("proxy %s method %s: %w", id, method, err)
			}
		}
	}
	return &f, nil
}

// Proxy returns the fixture for id. A nil File has no proxies.
func (f *File) Proxy(id string) (Proxy, bool) {
	if f == nil {
		return Proxy{}, false
	}
	p, ok := f.Proxies[id]
	return p, ok
}

// Apply installs p's responses and errors on rec as response mappers. The
// convert function, when non-nil, transforms each response value before it
// is handed out (e.g. into a goja.Value). Methods not declared on rec fail
// with testproxy.ErrUnknownMethod, before anything is installed.
func Apply[M ~string](rec *testproxy.Recorder[M], p Proxy, convert func(any) any) error {
	for method := range p.Responses {
		if !rec.Declared(M(method)) {
			return fmt.Errorf("fixture response for %q: %w", method, testproxy.ErrUnknownMethod)
		}
	}
	for method := range p.Errors {
		if !rec.Declared(M(method)) {
			return fmt.Errorf("fixture error for %q: %w", method, testproxy.ErrUnknownMethod)
		}
		if _, ok := p.Responses[method]; ok {
			return fmt.Errorf("fixture for %q has both a response and an error", method)
		}
	}

	for method, v := range p.Responses {
		value := v
		if convert != nil {
			value = convert(v)
		}
		rec.SetResponseMapperFor(M(method), func([]any) (any, error) { return value, nil })
	}
	for method, e := range p.Errors {
		err := e.Err()
		rec.SetResponseMapperFor(M(method), func([]any) (any, error) { return nil, err })
	}
	return nil
}
