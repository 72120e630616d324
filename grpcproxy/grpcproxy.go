// Package grpcproxy serves a call-recording double for any gRPC service
// described by a protobuf FileDescriptorSet.
//
// Every unary method of the service is a declared method of the underlying
// testproxy.Recorder, named by its short method name (e.g. "Echo"). Requests
// are recorded as the map produced by protojson, so tests inspect them the
// same way they inspect any other double:
//
//	p, _ := grpcproxy.New(fds, "test.EchoService")
//	p.Recorder().SetResponseFor("Echo", map[string]any{"message": "hi"})
//	go p.Serve(ctx, lis)
//	...
//	req := testutil.AwaitCall(t, p.Recorder().WhenCalled("Echo")).Arg()
//
// A method with no canned response blocks until the RPC's context ends, so
// the client sees DeadlineExceeded or Canceled rather than an empty message.
package grpcproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/joeycumines/go-testproxy"
	"github.com/joeycumines/go-testproxy/internal/fixture"
)

// Proxy is a gRPC service double.
type Proxy struct {
	service protoreflect.ServiceDescriptor
	methods map[string]protoreflect.MethodDescriptor
	rec     *testproxy.Recorder[string]
	logger  *slog.Logger
	srvOpts []grpc.ServerOption
}

// Option configures a Proxy.
type Option func(*Proxy) error

// WithLogger sets the logger used for the recorder and for RPC logging.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) error {
		p.logger = logger
		return nil
	}
}

// WithFixture installs persistent canned responses and errors, keyed by
// method name.
func WithFixture(f fixture.Proxy) Option {
	return func(p *Proxy) error {
		return fixture.Apply(p.rec, f, nil)
	}
}

// WithServerOptions adds options for the server created by Serve.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(p *Proxy) error {
		p.srvOpts = append(p.srvOpts, opts...)
		return nil
	}
}

// LoadDescriptorSet reads a binary FileDescriptorSet, as written by
// `protoc --include_imports --descriptor_set_out`.
func LoadDescriptorSet(path string) (*descriptorpb.FileDescriptorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor set: %w", err)
	}
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fds); err != nil {
		return nil, fmt.Errorf("%s: invalid FileDescriptorSet: %w", path, err)
	}
	return &fds, nil
}

// New builds a double for the fully qualified service name (e.g.
// "pkg.v1.KeyService") found in fds.
func New(fds *descriptorpb.FileDescriptorSet, service string, opts ...Option) (*Proxy, error) {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, fmt.Errorf("failed to parse descriptors: %w", err)
	}
	d, err := files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", service, err)
	}
	svc, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%q is not a service", service)
	}

	p := &Proxy{
		service: svc,
		methods: make(map[string]protoreflect.MethodDescriptor),
		logger:  slog.Default(),
	}
	var names []string
	for i := 0; i < svc.Methods().Len(); i++ {
		md := svc.Methods().Get(i)
		if md.IsStreamingClient() || md.IsStreamingServer() {
			continue
		}
		name := string(md.Name())
		p.methods[name] = md
		names = append(names, name)
	}
	p.rec = testproxy.New(names...)

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.rec.SetLogger(p.logger)
	return p, nil
}

// Recorder returns the recorder behind the double. Its method names are the
// service's unary method names.
func (p *Proxy) Recorder() *testproxy.Recorder[string] { return p.rec }

// ServiceName returns the fully qualified service name.
func (p *Proxy) ServiceName() string { return string(p.service.FullName()) }

// ServiceDesc returns a grpc.ServiceDesc routing every unary method to the
// double. Streaming methods are answered with Unimplemented.
func (p *Proxy) ServiceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: p.ServiceName(),
		HandlerType: (*any)(nil),
		Metadata:    p.service.ParentFile().Path(),
	}
	for i := 0; i < p.service.Methods().Len(); i++ {
		md := p.service.Methods().Get(i)
		if md.IsStreamingClient() || md.IsStreamingServer() {
			desc.Streams = append(desc.Streams, grpc.StreamDesc{
				StreamName:    string(md.Name()),
				ClientStreams: md.IsStreamingClient(),
				ServerStreams: md.IsStreamingServer(),
				Handler: func(any, grpc.ServerStream) error {
					return status.Errorf(codes.Unimplemented, "streaming method %s is not supported by the double", md.FullName())
				},
			})
			continue
		}
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: string(md.Name()),
			Handler:    p.handler(md),
		})
	}
	return desc
}

// Register registers the double on s.
func (p *Proxy) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(p.ServiceDesc(), p)
}

// Serve serves the double on lis until ctx is done. Pending RPCs are
// cancelled on shutdown.
func (p *Proxy) Serve(ctx context.Context, lis net.Listener) error {
	opts := append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(p.logRPC)}, p.srvOpts...)
	srv := grpc.NewServer(opts...)
	p.Register(srv)

	p.logger.Info("serving", "service", p.ServiceName(), "addr", lis.Addr().String(), "recorder", p.rec.ID())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.Stop()
		<-errCh
		return nil
	}
}

func (p *Proxy) logRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	p.logger.Debug("rpc", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

func (p *Proxy) handler(md protoreflect.MethodDescriptor) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := fmt.Sprintf("/%s/%s", p.ServiceName(), md.Name())
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := dynamicpb.NewMessage(md.Input())
		if err := dec(req); err != nil {
			return nil, err
		}
		invoke := func(ctx context.Context, req any) (any, error) {
			return p.invoke(ctx, md, req.(proto.Message))
		}
		if interceptor == nil {
			return invoke(ctx, req)
		}
		return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: p, FullMethod: fullMethod}, invoke)
	}
}

func (p *Proxy) invoke(ctx context.Context, md protoreflect.MethodDescriptor, req proto.Message) (any, error) {
	name := string(md.Name())
	arg, err := messageToMap(req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "record %s: %v", name, err)
	}
	p.rec.MethodCalled(name, arg)

	resp := p.rec.Respond(name, arg)
	v, err := resp.Wait(ctx)
	switch {
	case err == nil:
	case !resp.Ok():
		return nil, status.FromContextError(ctx.Err()).Err()
	default:
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codes.Unknown, err.Error())
	}

	out, err := toMessage(md.Output(), v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "canned response for %s: %v", name, err)
	}
	return out, nil
}

// messageToMap renders m as the generic map protojson would produce.
func messageToMap(m proto.Message) (map[string]any, error) {
	data, err := protojson.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// toMessage converts a canned value to a message of type desc. Values may be
// proto messages of that type, protojson text, or anything that marshals to
// a JSON object with encoding/json.
func toMessage(desc protoreflect.MessageDescriptor, v any) (proto.Message, error) {
	out := dynamicpb.NewMessage(desc)
	var data []byte
	switch v := v.(type) {
	case nil:
		return out, nil
	case proto.Message:
		if got := v.ProtoReflect().Descriptor().FullName(); got != desc.FullName() {
			return nil, fmt.Errorf("message is %s, want %s", got, desc.FullName())
		}
		return v, nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Invoke calls method (a short method name of the proxied service) over
// conn, converting req and the response like the double does. It is the
// client half used by tests and by the serve command's self-check.
func (p *Proxy) Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req any) (map[string]any, error) {
	md, ok := p.methods[method]
	if !ok {
		return nil, &testproxy.UnknownMethodError{Recorder: p.rec.ID(), Method: method, Declared: p.rec.Methods()}
	}
	in, err := toMessage(md.Input(), req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	out := dynamicpb.NewMessage(md.Output())
	if err := conn.Invoke(ctx, fmt.Sprintf("/%s/%s", p.ServiceName(), method), in, out); err != nil {
		return nil, err
	}
	return messageToMap(out)
}
