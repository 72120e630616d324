package command

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/joeycumines/go-testproxy/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

// Execute lists the commands, or describes one with its flags.
func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "testproxy - call-recording test doubles for JavaScript tests and gRPC services")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: testproxy <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'testproxy help <command>' for more information about a command.")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: %s\n", cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	var buf bytes.Buffer
	fs.SetOutput(&buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return errors.New("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "testproxy version %s\n", c.version)
	return nil
}

// ConfigCommand reads and writes configuration options.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showAll    bool
}

// NewConfigCommand creates a new config command. With an empty configPath
// values are only set in memory.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Manage configuration settings",
			"config [options] [key] [value] | config schema | config validate",
		),
		config:     cfg,
		configPath: configPath,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showAll, "all", false, "Show all configuration, sections included")
}

func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()

	switch {
	case len(args) == 0:
		if !c.showAll {
			_, _ = fmt.Fprintln(stdout, "Configuration management:")
			_, _ = fmt.Fprintln(stdout, "  config <key>          - Get configuration value")
			_, _ = fmt.Fprintln(stdout, "  config <key> <value>  - Set configuration value")
			_, _ = fmt.Fprintln(stdout, "  config -all           - Show all configuration")
			_, _ = fmt.Fprintln(stdout, "  config schema         - Describe every known option")
			_, _ = fmt.Fprintln(stdout, "  config validate       - Validate configuration")
			return nil
		}
		_, _ = fmt.Fprintln(stdout, "Global configuration:")
		printOptions(stdout, "  ", c.config.Global)
		sections := make([]string, 0, len(c.config.Commands))
		for name := range c.config.Commands {
			sections = append(sections, name)
		}
		sort.Strings(sections)
		for _, name := range sections {
			_, _ = fmt.Fprintf(stdout, "[%s]\n", name)
			printOptions(stdout, "  ", c.config.Commands[name])
		}
		return nil

	case len(args) == 1 && args[0] == "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil

	case len(args) == 1 && args[0] == "validate":
		for _, w := range c.config.Warnings {
			_, _ = fmt.Fprintf(stderr, "warning: %s\n", w)
		}
		problems := schema.Validate(c.config)
		for _, p := range problems {
			_, _ = fmt.Fprintf(stderr, "error: %s\n", p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("configuration has %d problem(s)", len(problems))
		}
		_, _ = fmt.Fprintln(stdout, "Configuration is valid")
		return nil

	case len(args) == 1:
		key := args[0]
		if value, ok := c.config.Get(key); ok {
			_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, value)
			return nil
		}
		if schema.IsKnown("", key) {
			_, _ = fmt.Fprintf(stdout, "%s: %s (default)\n", key, schema.Resolve(c.config, key))
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "Configuration key %q not found\n", key)
		return nil

	case len(args) == 2:
		key, value := args[0], args[1]
		if !schema.IsKnown("", key) {
			_, _ = fmt.Fprintf(stderr, "warning: unknown configuration key %q\n", key)
		}
		c.config.Set(key, value)
		if c.configPath != "" {
			if err := config.SetKeyInFile(c.configPath, key, value); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, value)
		return nil

	default:
		_, _ = fmt.Fprintln(stderr, "Too many arguments")
		return errors.New("too many arguments")
	}
}

func printOptions(w io.Writer, indent string, options map[string]string) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s%s: %s\n", indent, k, options[k])
	}
}
