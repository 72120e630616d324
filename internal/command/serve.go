package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"

	"github.com/joeycumines/go-testproxy/grpcproxy"
	"github.com/joeycumines/go-testproxy/internal/config"
	"github.com/joeycumines/go-testproxy/internal/fixture"
)

// ServeCommand runs a standalone gRPC double for a service described by a
// FileDescriptorSet, answering from a fixture file.
type ServeCommand struct {
	*BaseCommand
	config *config.Config

	descriptor string
	service    string
	listen     string
	fixtures   string
	fixtureID  string
	logLevel   string
	logPath    string

	ctxFactory contextFactory
	// ready, when set, is called with the bound address once listening.
	ready func(net.Addr)
}

// NewServeCommand creates a new serve command.
func NewServeCommand(cfg *config.Config) *ServeCommand {
	return &ServeCommand{
		BaseCommand: NewBaseCommand(
			"serve",
			"Serve a gRPC double answering from fixtures",
			"serve -descriptor set.pb -service pkg.Service [options]",
		),
		config: cfg,
	}
}

func (c *ServeCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.descriptor, "descriptor", "", "Binary FileDescriptorSet (protoc --descriptor_set_out)")
	fs.StringVar(&c.service, "service", "", "Fully-qualified service name")
	fs.StringVar(&c.listen, "listen", "", "Listen address (default from config, 127.0.0.1:50051)")
	fs.StringVar(&c.fixtures, "fixtures", "", "YAML fixture file")
	fs.StringVar(&c.fixtureID, "fixture", "", "Proxy id within the fixture file (default: the service name)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.logPath, "log-file", "", "Path to log file (JSON output)")
}

func (c *ServeCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return errors.New("unexpected arguments")
	}
	if c.descriptor == "" || c.service == "" {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return errors.New("-descriptor and -service are required")
	}
	if c.config == nil {
		c.config = config.NewConfig()
	}
	schema := config.DefaultSchema()

	lc, err := resolveLogConfig(c.logPath, c.logLevel, c.config)
	if err != nil {
		return err
	}
	defer lc.Close()
	logger := lc.logger(stderr)

	fds, err := grpcproxy.LoadDescriptorSet(c.descriptor)
	if err != nil {
		return err
	}
	opts := []grpcproxy.Option{grpcproxy.WithLogger(logger)}

	fixturePath := c.fixtures
	if fixturePath == "" {
		fixturePath = schema.ResolveFor(c.config, "serve", "fixtures")
	}
	if fixturePath != "" {
		file, err := fixture.Load(fixturePath)
		if err != nil {
			return err
		}
		id := c.fixtureID
		if id == "" {
			id = schema.ResolveFor(c.config, "serve", "fixture")
		}
		explicit := id != ""
		if !explicit {
			id = c.service
		}
		switch p, ok := file.Proxy(id); {
		case ok:
			opts = append(opts, grpcproxy.WithFixture(p))
		case explicit:
			return fmt.Errorf("unknown fixture %q in %s", id, fixturePath)
		default:
			logger.Warn("no fixture for service", "service", c.service, "fixtures", fixturePath)
		}
	}

	proxy, err := grpcproxy.New(fds, c.service, opts...)
	if err != nil {
		return err
	}

	addr := c.listen
	if addr == "" {
		addr = schema.ResolveFor(c.config, "serve", "listen")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := c.ctxFactory.context()
	defer cancel()

	_, _ = fmt.Fprintf(stdout, "serving %s on %s (methods: %v)\n", proxy.ServiceName(), lis.Addr(), proxy.Recorder().Methods())
	if c.ready != nil {
		c.ready(lis.Addr())
	}
	if err := proxy.Serve(ctx, lis); err != nil {
		return err
	}

	rec := proxy.Recorder()
	for _, m := range rec.Methods() {
		if n := rec.CallCount(m); n > 0 {
			logger.Info("calls received", "method", m, "count", n)
		}
	}
	return nil
}
