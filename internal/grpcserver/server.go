// Package grpcserver exposes booking operations to trusted internal callers over gRPC.
package grpcserver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "grind.booking.v1.BookingService"

	fieldUserID         = "user_id"
	fieldClassID        = "class_id"
	fieldBookingID      = "booking_id"
	fieldCredits        = "credits"
	fieldIdempotencyKey = "idempotency_key"
	fieldMetadataJSON   = "metadata_json"
	fieldLimit          = "limit"

	errorInvalidCredits = "invalid_credits"
	errorInvalidLimit   = "invalid_limit"

	maxExactInteger = 1 << 53
)

// BookingService is the subset of booking.Service served over gRPC.
type BookingService interface {
	BookClass(ctx context.Context, userID booking.UserID, classID booking.ClassID) (booking.Booking, error)
	CancelBooking(ctx context.Context, userID booking.UserID, bookingID booking.BookingID) (booking.Booking, error)
	Credits(ctx context.Context, userID booking.UserID) (booking.Credits, error)
	TopUpCredits(ctx context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, metadata booking.MetadataJSON) (booking.Credits, error)
	ListBookings(ctx context.Context, userID booking.UserID, limit int) ([]booking.Booking, error)
	Availability(ctx context.Context, classID booking.ClassID) (booking.Availability, error)
}

// BookingServiceServer adapts BookingService to struct-typed gRPC calls.
type BookingServiceServer struct {
	bookingService BookingService
}

// NewBookingServiceServer constructs the gRPC adapter.
func NewBookingServiceServer(bookingService BookingService) *BookingServiceServer {
	return &BookingServiceServer{bookingService: bookingService}
}

// Register installs the booking and health services on grpcServer.
func Register(grpcServer *grpc.Server, server *BookingServiceServer) *health.Server {
	grpcServer.RegisterService(&ServiceDesc, server)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return healthServer
}

func (server *BookingServiceServer) BookClass(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := booking.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	classID, err := booking.NewClassID(stringField(request, fieldClassID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	created, err := server.bookingService.BookClass(ctx, userID, classID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"booking": bookingValue(created)})
}

func (server *BookingServiceServer) CancelBooking(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := booking.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	bookingID, err := booking.NewBookingID(stringField(request, fieldBookingID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	cancelled, err := server.bookingService.CancelBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"booking": bookingValue(cancelled)})
}

func (server *BookingServiceServer) GetCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := booking.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.bookingService.Credits(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{fieldUserID: userID.String(), fieldCredits: balance.Int64()})
}

func (server *BookingServiceServer) TopUpCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := booking.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rawCredits, ok := integerField(request, fieldCredits)
	if !ok {
		return nil, invalidFieldError(errorInvalidCredits, "Credits must be a whole number.")
	}
	amount, err := booking.NewPositiveCredits(rawCredits)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := booking.NewIdempotencyKey(stringField(request, fieldIdempotencyKey))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := booking.NewMetadataJSON(stringField(request, fieldMetadataJSON))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.bookingService.TopUpCredits(ctx, userID, amount, idempotencyKey, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{fieldUserID: userID.String(), fieldCredits: balance.Int64()})
}

func (server *BookingServiceServer) ListBookings(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := booking.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit := int64(0)
	if _, present := request.GetFields()[fieldLimit]; present {
		parsed, ok := integerField(request, fieldLimit)
		if !ok || parsed < 0 {
			return nil, invalidFieldError(errorInvalidLimit, "Limit must be a non-negative whole number.")
		}
		limit = parsed
	}
	bookings, err := server.bookingService.ListBookings(ctx, userID, int(limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	values := make([]any, 0, len(bookings))
	for _, record := range bookings {
		values = append(values, bookingValue(record))
	}
	return structpb.NewStruct(map[string]any{"bookings": values})
}

func (server *BookingServiceServer) GetAvailability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	classID, err := booking.NewClassID(stringField(request, fieldClassID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	availability, err := server.bookingService.Availability(ctx, classID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{
		fieldClassID: availability.Class.ID().String(),
		"title":      availability.Class.Title(),
		"capacity":   availability.Class.Capacity().Int64(),
		"confirmed":  availability.Confirmed,
		"remaining":  availability.Remaining,
	})
}

func stringField(request *structpb.Struct, name string) string {
	value, ok := request.GetFields()[name]
	if !ok {
		return ""
	}
	return value.GetStringValue()
}

// integerField accepts whole numbers only; structpb carries every number as a float64.
func integerField(request *structpb.Struct, name string) (int64, bool) {
	value, ok := request.GetFields()[name]
	if !ok {
		return 0, false
	}
	number, isNumber := value.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, false
	}
	if number.NumberValue != math.Trunc(number.NumberValue) || math.Abs(number.NumberValue) > maxExactInteger {
		return 0, false
	}
	return int64(number.NumberValue), true
}

func bookingValue(record booking.Booking) map[string]any {
	return map[string]any{
		"id":         record.ID().String(),
		fieldUserID:  record.UserID().String(),
		fieldClassID: record.ClassID().String(),
		"status":     string(record.Status()),
		"created_at": record.CreatedAt().UTC().Format(time.RFC3339Nano),
		"updated_at": record.UpdatedAt().UTC().Format(time.RFC3339Nano),
	}
}

// mapToGRPCError puts the member-facing text in the status message and the
// error kind in an ErrorInfo detail.
func mapToGRPCError(source error) error {
	kind := booking.KindOf(source)
	return statusWithReason(codeForKind(kind), booking.UserMessage(source), string(kind))
}

func invalidFieldError(reason string, message string) error {
	return statusWithReason(codes.InvalidArgument, message, reason)
}

func statusWithReason(code codes.Code, message string, reason string) error {
	statusValue := status.New(code, message)
	detailed, err := statusValue.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ServiceName})
	if err != nil {
		return statusValue.Err()
	}
	return detailed.Err()
}

// ErrorReason returns the error kind carried by a booking service status, or
// an empty string when err carries none.
func ErrorReason(err error) string {
	statusValue, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range statusValue.Details() {
		if info, isInfo := detail.(*errdetails.ErrorInfo); isInfo && info.GetDomain() == ServiceName {
			return info.GetReason()
		}
	}
	return ""
}

func codeForKind(kind booking.ErrorKind) codes.Code {
	switch kind {
	case booking.KindInvalidInput:
		return codes.InvalidArgument
	case booking.KindUserNotFound, booking.KindClassNotFound, booking.KindBookingNotFound:
		return codes.NotFound
	case booking.KindInsufficientCredits, booking.KindClassFull:
		return codes.FailedPrecondition
	case booking.KindDuplicateBooking, booking.KindDuplicateGrant:
		return codes.AlreadyExists
	case booking.KindAvailabilityCheckFailed,
		booking.KindBookingInsertFailed,
		booking.KindCreditDebitFailed,
		booking.KindBookingCancelFailed,
		booking.KindCreditRefundFailed:
		return codes.Unavailable
	case booking.KindUnsupported:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

type structHandler func(*BookingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structHandler) grpc.MethodDesc {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := dec(request); err != nil {
				return nil, err
			}
			server := srv.(*BookingServiceServer)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, request, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the booking service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("BookClass", (*BookingServiceServer).BookClass),
		unaryHandler("CancelBooking", (*BookingServiceServer).CancelBooking),
		unaryHandler("GetCredits", (*BookingServiceServer).GetCredits),
		unaryHandler("TopUpCredits", (*BookingServiceServer).TopUpCredits),
		unaryHandler("ListBookings", (*BookingServiceServer).ListBookings),
		unaryHandler("GetAvailability", (*BookingServiceServer).GetAvailability),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grind/booking/v1/booking.proto",
}

// Client calls the booking service on a connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with a struct request built from fields.
func (client *Client) Call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fmt.Sprintf("/%s/%s", ServiceName, method), request, response, opts...); err != nil {
		return nil, err
	}
	return response, nil
}
