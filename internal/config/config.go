// Package config loads the testproxy configuration file.
//
// The file is line oriented: `key value` sets an option, `#` starts a
// comment, and `[name]` opens a section whose options apply to the command
// of that name. `[]` returns to the global section. Values run to the end of
// the line, so they may contain spaces.
//
//	log.level debug
//	run.timeout 10s
//
//	[serve]
//	listen 127.0.0.1:50051
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "TESTPROXY_CONFIG"

// Config is a parsed configuration file.
type Config struct {
	// Global holds options outside any section.
	Global map[string]string
	// Commands holds the options of each [section], keyed by command name.
	Commands map[string]map[string]string
	// Warnings lists problems found while loading. They never fail a load.
	Warnings []string
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:   map[string]string{},
		Commands: map[string]map[string]string{},
	}
}

// DefaultPath is $TESTPROXY_CONFIG, or ~/.testproxy/config.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating config: %w", err)
	}
	return filepath.Join(home, ".testproxy", "config"), nil
}

// Load reads the file at path. A missing file is an empty configuration;
// a symlink is refused.
func Load(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	switch {
	case os.IsNotExist(err):
		return NewConfig(), nil
	case err != nil:
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	case fi.Mode()&os.ModeSymlink != 0:
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a configuration from r and checks it against DefaultSchema,
// recording any issues as warnings.
func Parse(r io.Reader) (*Config, error) {
	c := NewConfig()
	target := c.Global

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if name, ok := sectionName(line); ok {
			if name == "" {
				target = c.Global
				continue
			}
			if c.Commands[name] == nil {
				c.Commands[name] = map[string]string{}
			}
			target = c.Commands[name]
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		target[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	for _, issue := range DefaultSchema().Validate(c) {
		c.Warnings = append(c.Warnings, issue)
		slog.Warn("config: " + issue)
	}
	return c, nil
}

func sectionName(line string) (string, bool) {
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
		return "", false
	}
	return strings.TrimSpace(line[1 : len(line)-1]), true
}

// Get returns a global option.
func (c *Config) Get(name string) (string, bool) {
	v, ok := c.Global[name]
	return v, ok
}

// Lookup returns the option from the command's section, falling back to the
// global option of the same name.
func (c *Config) Lookup(command, name string) (string, bool) {
	if v, ok := c.Commands[command][name]; ok {
		return v, true
	}
	return c.Get(name)
}

// Set sets a global option.
func (c *Config) Set(name, value string) {
	c.Global[name] = value
}

// SetIn sets an option in a command section.
func (c *Config) SetIn(command, name, value string) {
	if c.Commands[command] == nil {
		c.Commands[command] = map[string]string{}
	}
	c.Commands[command][name] = value
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", s)
}
