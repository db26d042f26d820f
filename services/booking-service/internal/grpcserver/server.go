package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/slots"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "slotbook.slots.v1.SlotService"
	ListSlotsMethod = "/" + ServiceName + "/ListSlots"
)

// SlotFinder is satisfied by *slots.Finder.
type SlotFinder interface {
	Find(ctx context.Context, q slots.Query) ([]availability.Slot, error)
}

// SlotService carries ListSlots over structpb messages so no generated code
// is needed on either side.
type SlotService interface {
	ListSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type server struct {
	finder SlotFinder
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SlotService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSlots", Handler: listSlotsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slotbook/slots/v1/slots.proto",
}

// Register installs the slot service and a health server on grpcServer.
func Register(grpcServer *grpc.Server, finder SlotFinder) *health.Server {
	grpcServer.RegisterService(&serviceDesc, &server{finder: finder})
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return hs
}

func listSlotsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlotService).ListSlots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListSlotsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SlotService).ListSlots(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *server) ListSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := queryFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	found, err := s.finder.Find(ctx, q)
	if err != nil {
		switch {
		case errors.Is(err, availability.ErrInvalidInput), errors.Is(err, availability.ErrUnknownTimezone):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, scheduling.ErrNotFound):
			return nil, status.Error(codes.NotFound, "staff or variant not found")
		default:
			return nil, status.Error(codes.Internal, "failed to compute slots")
		}
	}

	items := make([]any, 0, len(found))
	for _, slot := range found {
		items = append(items, map[string]any{
			"start_time": slot.Start.UTC().Format(time.RFC3339),
			"end_time":   slot.End.UTC().Format(time.RFC3339),
		})
	}
	return structpb.NewStruct(map[string]any{"slots": items})
}

func queryFromStruct(req *structpb.Struct) (slots.Query, error) {
	fields := req.GetFields()
	str := func(key string) string {
		return strings.TrimSpace(fields[key].GetStringValue())
	}

	q := slots.Query{
		BusinessID: str("business_id"),
		StaffID:    str("staff_id"),
		VariantID:  str("variant_id"),
	}
	if q.BusinessID == "" || q.StaffID == "" || q.VariantID == "" {
		return slots.Query{}, errors.New("business_id, staff_id and variant_id are required")
	}
	date, err := availability.ParseDate(str("date"))
	if err != nil {
		return slots.Query{}, err
	}
	q.Date = date
	if v, ok := fields["step_minutes"]; ok {
		num, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || num.NumberValue < 1 || num.NumberValue > float64(availability.MinutesPerDay) || num.NumberValue != math.Trunc(num.NumberValue) {
			return slots.Query{}, errors.New("step_minutes must be a whole number between 1 and 1440")
		}
		q.StepMinutes = int(num.NumberValue)
	}
	return q, nil
}

// SlotTime is one slot as returned over gRPC.
type SlotTime struct {
	Start time.Time
	End   time.Time
}

// ListSlots calls the slot service on conn.
func ListSlots(ctx context.Context, conn grpc.ClientConnInterface, q slots.Query) ([]SlotTime, error) {
	fields := map[string]any{
		"business_id": q.BusinessID,
		"staff_id":    q.StaffID,
		"variant_id":  q.VariantID,
		"date":        q.Date.String(),
	}
	if q.StepMinutes > 0 {
		fields["step_minutes"] = q.StepMinutes
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, ListSlotsMethod, req, resp); err != nil {
		return nil, err
	}

	var out []SlotTime
	for _, v := range resp.GetFields()["slots"].GetListValue().GetValues() {
		item := v.GetStructValue().GetFields()
		start, err := time.Parse(time.RFC3339, item["start_time"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("slot start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, item["end_time"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("slot end: %w", err)
		}
		out = append(out, SlotTime{Start: start, End: end})
	}
	return out, nil
}
