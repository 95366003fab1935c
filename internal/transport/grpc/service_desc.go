package grpc

import (
	"context"

	"google.golang.org/grpc"

	"mathavam/backend/internal/transport/wire"
)

const ServiceName = "mathavam.v1.AppointmentsService"

type DeleteRequest struct {
	ID string `json:"id"`
}

type DeleteResponse struct{}

type AppointmentResponse struct {
	Appointment wire.Appointment `json:"appointment"`
}

// AppointmentsServiceServer is the server side of ServiceName.
type AppointmentsServiceServer interface {
	Book(ctx context.Context, req *wire.BookRequest) (*AppointmentResponse, error)
	SetStatus(ctx context.Context, req *wire.StatusRequest) (*AppointmentResponse, error)
	Reschedule(ctx context.Context, req *wire.RescheduleRequest) (*AppointmentResponse, error)
	List(ctx context.Context, req *wire.ListQuery) (*wire.Page, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}

func RegisterAppointmentsServiceServer(s grpc.ServiceRegistrar, srv AppointmentsServiceServer) {
	s.RegisterService(&AppointmentsServiceDesc, srv)
}

var AppointmentsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AppointmentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Book", Handler: unary("Book", AppointmentsServiceServer.Book)},
		{MethodName: "SetStatus", Handler: unary("SetStatus", AppointmentsServiceServer.SetStatus)},
		{MethodName: "Reschedule", Handler: unary("Reschedule", AppointmentsServiceServer.Reschedule)},
		{MethodName: "List", Handler: unary("List", AppointmentsServiceServer.List)},
		{MethodName: "Delete", Handler: unary("Delete", AppointmentsServiceServer.Delete)},
	},
	Streams: []grpc.StreamDesc{},
}

// FullMethod returns the invoke path of a method of ServiceName.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(AppointmentsServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(AppointmentsServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
