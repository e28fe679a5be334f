// Package api exposes the messaging core to local clients over gRPC. Requests
// and responses are google.protobuf.Struct values so the service needs no
// generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sockchat.v1.Control"

// Method names of the control service.
const (
	MethodStatus       = "Status"
	MethodListChats    = "ListChats"
	MethodListMessages = "ListMessages"
	MethodCreateChat   = "CreateChat"
	MethodSelectChat   = "SelectChat"
	MethodSendMessage  = "SendMessage"
	MethodDeleteChats  = "DeleteChats"
	MethodClearChats   = "ClearChats"
	MethodClearNotice  = "ClearNotice"
	MethodRetryUnsent  = "RetryUnsent"
	MethodConnect      = "Connect"
	MethodDisconnect   = "Disconnect"
	MethodSetOffline   = "SetOffline"
	MethodSetNetwork   = "SetNetwork"
	MethodWatch        = "Watch"
)

// ControlServer is the server side of the control service.
type ControlServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearNotice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryUnsent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetOffline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetNetwork(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ControlServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, stream)
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, ControlServer.Status),
		unary(MethodListChats, ControlServer.ListChats),
		unary(MethodListMessages, ControlServer.ListMessages),
		unary(MethodCreateChat, ControlServer.CreateChat),
		unary(MethodSelectChat, ControlServer.SelectChat),
		unary(MethodSendMessage, ControlServer.SendMessage),
		unary(MethodDeleteChats, ControlServer.DeleteChats),
		unary(MethodClearChats, ControlServer.ClearChats),
		unary(MethodClearNotice, ControlServer.ClearNotice),
		unary(MethodRetryUnsent, ControlServer.RetryUnsent),
		unary(MethodConnect, ControlServer.Connect),
		unary(MethodDisconnect, ControlServer.Disconnect),
		unary(MethodSetOffline, ControlServer.SetOffline),
		unary(MethodSetNetwork, ControlServer.SetNetwork),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sockchat/v1/control",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
