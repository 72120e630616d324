package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType represents the expected type of a configuration option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
)

// Option declares a single configuration option.
type Option struct {
	// Key is the option name as it appears in the config file.
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is "" for global options, or a command name.
	Section string
	// EnvVar overrides the option when set, or "".
	EnvVar string
}

// Schema declares the known options. It drives validation, help text,
// env var overrides and defaults.
type Schema struct {
	options   []*Option
	bySection map[string]map[string]*Option
}

// NewSchema creates a new empty Schema.
func NewSchema() *Schema {
	return &Schema{bySection: make(map[string]map[string]*Option)}
}

// Register adds opt to the schema; a later registration of the same
// section and key wins.
func (s *Schema) Register(opt Option) {
	ref := &opt
	s.options = append(s.options, ref)
	if s.bySection[opt.Section] == nil {
		s.bySection[opt.Section] = make(map[string]*Option)
	}
	s.bySection[opt.Section][opt.Key] = ref
}

// RegisterAll adds multiple options to the schema.
func (s *Schema) RegisterAll(opts []Option) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option for key in section ("" for global), or nil.
func (s *Schema) Lookup(section, key string) *Option {
	return s.bySection[section][key]
}

// IsKnown reports whether key may appear in section. Global keys are known
// in every command section, where they act as overrides.
func (s *Schema) IsKnown(section, key string) bool {
	return s.Lookup(section, key) != nil || s.Lookup("", key) != nil
}

// SectionOptions returns the options of section in registration order.
func (s *Schema) SectionOptions(section string) []Option {
	var out []Option
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted command section names.
func (s *Schema) Sections() []string {
	return slices.DeleteFunc(slices.Sorted(maps.Keys(s.bySection)), func(sec string) bool { return sec == "" })
}

// Resolve returns the effective value for a global config key by checking,
// in order: (1) the environment variable declared in the schema for this key,
// (2) the config value, (3) the schema default. Returns "" if the key is not
// found anywhere.
func (s *Schema) Resolve(c *Config, key string) string {
	opt := s.Lookup("", key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.Get(key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ResolveFor returns the effective value of key for a command. The global
// key "command.key" backs it: its environment variable wins, then the
// [command] section, then the global key, then the default.
func (s *Schema) ResolveFor(c *Config, command, key string) string {
	global := command + "." + key
	if opt := s.Lookup("", global); opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.Commands[command][key]; ok {
		return v
	}
	if _, ok := c.Get(global); ok || s.Lookup("", global) != nil {
		return s.Resolve(c, global)
	}
	if opt := s.Lookup(command, key); opt != nil {
		return opt.Default
	}
	return ""
}

// DurationFor is ResolveFor parsed as a duration; "" yields 0.
func (s *Schema) DurationFor(c *Config, command, key string) (time.Duration, error) {
	v := s.ResolveFor(c, command, key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: expected duration, got %q", command, key, v)
	}
	return d, nil
}

// IntFor is ResolveFor parsed as an int; "" yields 0.
func (s *Schema) IntFor(c *Config, command, key string) (int, error) {
	v := s.ResolveFor(c, command, key)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: expected int, got %q", command, key, v)
	}
	return i, nil
}

// BoolFor is ResolveFor parsed as a bool; "" yields false.
func (s *Schema) BoolFor(c *Config, command, key string) (bool, error) {
	v := s.ResolveFor(c, command, key)
	if v == "" {
		return false, nil
	}
	b, err := parseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s.%s: expected bool, got %q", command, key, v)
	}
	return b, nil
}

// Validate checks c against s, returning sorted human-readable issues
// for unknown options and type mismatches.
func (s *Schema) Validate(c *Config) []string {
	var issues []string

	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}

	for section, opts := range c.Commands {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}

	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp renders every option, global options first, then each
// section.
func (s *Schema) FormatHelp() string {
	var b strings.Builder

	if globals := s.SectionOptions(""); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}

	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}

	return b.String()
}

func writeOptionHelp(b *strings.Builder, o Option) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// --- Default schema ---

// DefaultSchema returns the schema declaring every known testproxy option.
func DefaultSchema() *Schema {
	s := NewSchema()
	s.RegisterAll(defaultGlobalOptions())
	s.RegisterAll(defaultCommandOptions())
	return s
}

func defaultGlobalOptions() []Option {
	return []Option{
		{Key: "color", Type: TypeString, Default: "auto", Description: "Color mode: auto, always, never"},

		{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "TESTPROXY_LOG_LEVEL"},
		{Key: "log.file", Type: TypeString, Default: "", Description: "Log file path (JSON output); stderr when empty", EnvVar: "TESTPROXY_LOG_FILE"},
		{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Size at which the log file is rotated"},
		{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Rotated log files kept"},

		{Key: "run.timeout", Type: TypeDuration, Default: "5s", Description: "Per-test timeout for JavaScript tests", EnvVar: "TESTPROXY_RUN_TIMEOUT"},
		{Key: "run.fixtures", Type: TypeString, Default: "", Description: "Fixture file for JavaScript tests"},
		{Key: "run.log-tail", Type: TypeInt, Default: "50", Description: "Log records shown with a failing test"},

		{Key: "serve.listen", Type: TypeString, Default: "127.0.0.1:50051", Description: "Listen address of the gRPC double", EnvVar: "TESTPROXY_SERVE_LISTEN"},
		{Key: "serve.fixtures", Type: TypeString, Default: "", Description: "Fixture file for the gRPC double"},
	}
}

func defaultCommandOptions() []Option {
	return []Option{
		// [run] section
		{Key: "timeout", Section: "run", Type: TypeDuration, Default: "5s", Description: "Per-test timeout"},
		{Key: "fixtures", Section: "run", Type: TypeString, Default: "", Description: "Fixture file"},
		{Key: "log-tail", Section: "run", Type: TypeInt, Default: "50", Description: "Log records shown with a failing test"},
		{Key: "verbose", Section: "run", Type: TypeBool, Default: "false", Description: "Report passing tests too"},

		// [serve] section
		{Key: "listen", Section: "serve", Type: TypeString, Default: "127.0.0.1:50051", Description: "Listen address"},
		{Key: "fixtures", Section: "serve", Type: TypeString, Default: "", Description: "Fixture file"},
		{Key: "fixture", Section: "serve", Type: TypeString, Default: "", Description: "Proxy id within the fixture file; defaults to the service name"},
	}
}
