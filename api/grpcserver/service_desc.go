package grpcserver

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

type unaryMethod func(BookServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BookServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("Insert", BookServer.Insert),
		handler("Update", BookServer.Update),
		handler("Delete", BookServer.Delete),
		handler("Query", BookServer.Query),
		handler("QueryMultiple", BookServer.QueryMultiple),
		handler("Ingest", BookServer.Ingest),
	},
	Streams: []grpc.StreamDesc{},
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
