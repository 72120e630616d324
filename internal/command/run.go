package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/joeycumines/go-testproxy/internal/config"
	"github.com/joeycumines/go-testproxy/internal/fixture"
	"github.com/joeycumines/go-testproxy/internal/jstest"
)

// ErrTestsFailed is returned by the run command when any case failed.
var ErrTestsFailed = errors.New("tests failed")

// RunCommand runs JavaScript test files against the testproxy:proxy module.
type RunCommand struct {
	*BaseCommand
	config *config.Config

	timeout  time.Duration
	fixtures string
	logLevel string
	logPath  string
	logTail  int
	verbose  bool
	color    string

	ctxFactory contextFactory
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run JavaScript tests that use TestBrowserProxy doubles",
			"run [options] <file.js|dir>...",
		),
		config: cfg,
	}
}

func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.timeout, "timeout", 0, "Per-test timeout (default from config, 5s)")
	fs.StringVar(&c.fixtures, "fixtures", "", "YAML fixture file for proxies constructed with {fixture: id}")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.logPath, "log-file", "", "Path to log file (JSON output)")
	fs.IntVar(&c.logTail, "log-tail", 0, "Log records shown with a failing test (default from config, 50)")
	fs.BoolVar(&c.verbose, "v", false, "Report passing tests too")
	fs.StringVar(&c.color, "color", "", "Color mode: auto, always, never")
}

func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if c.config == nil {
		c.config = config.NewConfig()
	}
	schema := config.DefaultSchema()

	files, err := collectTestFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		_, _ = fmt.Fprintln(stderr, "no test files given")
		return errors.New("no test files")
	}

	lc, err := resolveLogConfig(c.logPath, c.logLevel, c.config)
	if err != nil {
		return err
	}
	defer lc.Close()
	logger := lc.logger(stderr)

	opts := jstest.Options{Timeout: c.timeout, LogTail: c.logTail, Logger: logger}
	if opts.Timeout == 0 {
		if opts.Timeout, err = schema.DurationFor(c.config, "run", "timeout"); err != nil {
			return err
		}
	}
	if opts.LogTail == 0 {
		if opts.LogTail, err = schema.IntFor(c.config, "run", "log-tail"); err != nil {
			return err
		}
	}
	verbose := c.verbose
	if !verbose {
		if verbose, err = schema.BoolFor(c.config, "run", "verbose"); err != nil {
			return err
		}
	}

	fixturePath := c.fixtures
	if fixturePath == "" {
		fixturePath = schema.ResolveFor(c.config, "run", "fixtures")
	}
	if fixturePath != "" {
		if opts.Fixtures, err = fixture.Load(fixturePath); err != nil {
			return err
		}
	}

	color, err := useColor(c.color, schema.Resolve(c.config, "color"), stdout)
	if err != nil {
		return err
	}

	ctx, cancel := c.ctxFactory.context()
	defer cancel()

	logger.Debug("running tests", "files", len(files), "timeout", opts.Timeout)
	results := jstest.New(opts).RunFiles(ctx, files...)
	summary := jstest.NewReporter(stdout, color, verbose).Report(results)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if !summary.Ok() {
		return ErrTestsFailed
	}
	return nil
}

// collectTestFiles expands directories to the *_test.js files beneath them,
// sorted. Files named explicitly are kept as given.
func collectTestFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), "_test.js") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// useColor decides whether the report is styled. The flag wins over the
// configured mode; auto styles only a terminal.
func useColor(flagMode, configMode string, w io.Writer) (bool, error) {
	mode := flagMode
	if mode == "" {
		mode = configMode
	}
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("invalid color mode: %s", mode)
	}
}
