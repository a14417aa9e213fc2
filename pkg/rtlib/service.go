// Package rtlib is the RTLib client boundary: the gRPC surface an
// application-side runtime library uses to register itself, ask for a
// working mode, and report back constraints or a goal gap. No .proto
// file is available to generate from, so the wire messages are plain
// google.golang.org/protobuf/types/known/structpb structs and the
// grpc.ServiceDesc below is hand-written in the exact shape
// protoc-gen-go-grpc would otherwise emit, with a typed
// wrapper-over-ClientConn client.
package rtlib

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bbque.rtlib.RTLib"

// RTLibServer is the server-side contract: one method per RTLib
// operation, each trading a structpb.Struct request for a
// structpb.Struct response.
type RTLibServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unregister(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Enable(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disable(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWorkingMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetConstraints(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetGoalGap(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc is registered with a grpc.Server via
// grpc.Server.RegisterService(&ServiceDesc, impl).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RTLibServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: registerHandler},
		{MethodName: "Unregister", Handler: unregisterHandler},
		{MethodName: "Enable", Handler: enableHandler},
		{MethodName: "Disable", Handler: disableHandler},
		{MethodName: "GetWorkingMode", Handler: getWorkingModeHandler},
		{MethodName: "SetConstraints", Handler: setConstraintsHandler},
		{MethodName: "SetGoalGap", Handler: setGoalGapHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/rtlib/service.go",
}

func unaryHandler(method string, fn func(RTLibServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(RTLibServer)
		if interceptor == nil {
			return fn(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(s, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	registerHandler       = unaryHandler("Register", RTLibServer.Register)
	unregisterHandler     = unaryHandler("Unregister", RTLibServer.Unregister)
	enableHandler         = unaryHandler("Enable", RTLibServer.Enable)
	disableHandler        = unaryHandler("Disable", RTLibServer.Disable)
	getWorkingModeHandler = unaryHandler("GetWorkingMode", RTLibServer.GetWorkingMode)
	setConstraintsHandler = unaryHandler("SetConstraints", RTLibServer.SetConstraints)
	setGoalGapHandler     = unaryHandler("SetGoalGap", RTLibServer.SetGoalGap)
)

// Client is a typed wrapper over a grpc.ClientConn, mirroring
// pkg/client.Client's "one method per RPC, plain Go types in and out"
// shape, translated here to marshal/unmarshal the structpb payloads.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Register registers an application under name at the given priority,
// resolving its AWM menu from the recipe the server has on file.
func (c *Client) Register(ctx context.Context, name string, priority int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"name":     name,
		"priority": float64(priority),
	})
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "Register", req)
}

// Unregister removes a previously registered application.
func (c *Client) Unregister(ctx context.Context, handle string) (*structpb.Struct, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"handle": handle})
	return c.call(ctx, "Unregister", req)
}

// Enable marks handle eligible for scheduling.
func (c *Client) Enable(ctx context.Context, handle string) (*structpb.Struct, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"handle": handle})
	return c.call(ctx, "Enable", req)
}

// Disable marks handle ineligible for scheduling.
func (c *Client) Disable(ctx context.Context, handle string) (*structpb.Struct, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"handle": handle})
	return c.call(ctx, "Disable", req)
}

// GetWorkingMode returns the GWM event code implied by handle's
// current sync state and, if one is set, the current AWM id. Server
// answers at once from the registry; it does not read sync_mode.
func (c *Client) GetWorkingMode(ctx context.Context, handle string, syncMode bool) (*structpb.Struct, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"handle": handle, "sync_mode": syncMode})
	return c.call(ctx, "GetWorkingMode", req)
}

// SetConstraints pushes a list of AWM constraints for handle. Each
// entry is expected to carry "awm_id" (number), "op" ("add"|"remove")
// and "bound" ("exact"|"lower"|"upper").
func (c *Client) SetConstraints(ctx context.Context, handle string, constraints []interface{}) (*structpb.Struct, error) {
	list, err := structpb.NewList(constraints)
	if err != nil {
		return nil, err
	}
	req, _ := structpb.NewStruct(map[string]interface{}{"handle": handle})
	req.Fields["constraints"] = structpb.NewListValue(list)
	return c.call(ctx, "SetConstraints", req)
}

// SetGoalGap reports handle's current goal gap as a percentage.
func (c *Client) SetGoalGap(ctx context.Context, handle string, percent float64) (*structpb.Struct, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"handle": handle, "percent": percent})
	return c.call(ctx, "SetGoalGap", req)
}
