// Package transport's wire binding rides on the same gRPC stack the
// corpus uses for its plugin/remote-process RPC (plugin/grpc/server.go,
// plugin/grpc/client.go, domains/grpc/client.go): a *grpc.Server on the
// inbound side, a cached *grpc.ClientConn per peer on the outbound side.
// Request/response payloads here are plain Go structs, not protoc-generated
// messages, so calls are carried through a JSON codec registered with
// google.golang.org/grpc/encoding rather than protobuf wire format — gRPC's
// framing, flow control, and connection management are what this transport
// wants from the dependency, not protobuf's schema evolution story.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/eliasyaoyc/fastjob/internal/errors"
)

const jsonCodecName = "fastjob-json"

// jsonCodec implements encoding.Codec by delegating to encoding/json, so
// ScheduleJobRequest and friends can ride gRPC without a .proto definition.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	// ServerServiceName is the gRPC service name ServerInbound is registered
	// under, for callers (e.g. cmd/fastjob-worker's reporter) that build
	// their own GRPCClient.Call invocations against it.
	ServerServiceName = "fastjob.Server"
	workerServiceName = "fastjob.Worker"
)

func fullMethod(service, method string) string {
	return fmt.Sprintf("/%s/%s", service, method)
}

// unaryMethod adapts one ServerInbound/WorkerInbound method into the
// grpc.MethodDesc shape grpc.Server.RegisterService expects. Unlike
// protoc-generated bindings, the handler closes over fn directly instead of
// type-asserting the srv argument — there is exactly one implementation per
// process, so the indirection codegen normally needs buys nothing here.
func unaryMethod[Req, Resp any](name string, fn func(context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(ctx, req)
			}
			info := &grpc.UnaryServerInfo{FullMethod: name}
			handler := func(ctx context.Context, in interface{}) (interface{}, error) {
				return fn(ctx, in.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// NewServerGRPCServer builds the control plane's inbound gRPC server: every
// call a worker or peer server makes into this node (spec.md §6).
func NewServerGRPCServer(inbound ServerInbound) *grpc.Server {
	desc := grpc.ServiceDesc{
		ServiceName: ServerServiceName,
		HandlerType: (*ServerInbound)(nil),
		Methods: []grpc.MethodDesc{
			unaryMethod("RegisterWorkerManager", inbound.RegisterWorkerManager),
			unaryMethod("HeartBeat", inbound.HeartBeat),
			unaryMethod("ReportInstanceStatus", inbound.ReportInstanceStatus),
			unaryMethod("QueryExecutorCluster", inbound.QueryExecutorCluster),
			unaryMethod("DeployContainer", inbound.DeployContainer),
			unaryMethod("Ping", inbound.Ping),
		},
	}
	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	srv.RegisterService(&desc, inbound)
	return srv
}

// NewWorkerGRPCServer builds a worker process's inbound gRPC server: the
// three calls a control-plane node makes against it.
func NewWorkerGRPCServer(inbound WorkerInbound) *grpc.Server {
	desc := grpc.ServiceDesc{
		ServiceName: workerServiceName,
		HandlerType: (*WorkerInbound)(nil),
		Methods: []grpc.MethodDesc{
			unaryMethod("ScheduleJob", inbound.ScheduleJob),
			unaryMethod("Ping", inbound.Ping),
			unaryMethod("DeployContainer", inbound.DeployContainer),
		},
	}
	srv := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	srv.RegisterService(&desc, inbound)
	return srv
}

// GRPCClient is the reference WorkerClient binding and also the worker
// side's client into the control plane's ServerInbound service (see
// cmd/fastjob-worker's use of Call for register/heartbeat/report calls).
// It keeps one *grpc.ClientConn per peer address, matching the
// long-lived-connection model domains/grpc/client.go uses for plugin
// processes rather than dialing fresh on every call.
type GRPCClient struct {
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCClient builds a GRPCClient that dials new peers with the given
// timeout and reuses the connection for every later call to that address.
func NewGRPCClient(dialTimeout time.Duration) *GRPCClient {
	return &GRPCClient{dialTimeout: dialTimeout, conns: make(map[string]*grpc.ClientConn)}
}

func (c *GRPCClient) connFor(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", addr), errors.ErrTransport)
	}
	c.conns[addr] = conn
	return conn, nil
}

// Call invokes one RPC by its service/method name against addr, used both
// by WorkerClient's fixed methods below and by cmd/fastjob-worker's
// reporter for the register/heartbeat/report-instance-status calls it
// makes back into ServerInbound.
func (c *GRPCClient) Call(ctx context.Context, addr, service, method string, req, resp interface{}) error {
	conn, err := c.connFor(ctx, addr)
	if err != nil {
		return err
	}
	if err := conn.Invoke(ctx, fullMethod(service, method), req, resp); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s.%s to %s", service, method, addr), errors.ErrTransport)
	}
	return nil
}

// Close tears down every cached connection. Safe to call once at shutdown.
func (c *GRPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, addr)
	}
}

func (c *GRPCClient) ScheduleJob(ctx context.Context, addr string, req *ScheduleJobRequest) (*ScheduleJobResponse, error) {
	var resp ScheduleJobResponse
	if err := c.Call(ctx, addr, workerServiceName, "ScheduleJob", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) Ping(ctx context.Context, addr string) (*PingResponse, error) {
	var resp PingResponse
	if err := c.Call(ctx, addr, workerServiceName, "Ping", &PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) DeployContainer(ctx context.Context, addr string, req *DeployContainerRequest) (*DeployContainerResponse, error) {
	var resp DeployContainerResponse
	if err := c.Call(ctx, addr, workerServiceName, "DeployContainer", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ WorkerClient = (*GRPCClient)(nil)
