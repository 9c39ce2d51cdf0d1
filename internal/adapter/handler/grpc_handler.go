package handler

import (
	"context"
	"errors"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/core/service"
)

const listingServiceName = "marketplace.v1.ListingService"

// ListingServiceServer is the unary surface registered under marketplace.v1.ListingService.
type ListingServiceServer interface {
	CreateListing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateListing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelListing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BuyItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetListing(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type GRPCHandler struct {
	marketplace *service.MarketplaceService
}

func NewGRPCHandler(marketplace *service.MarketplaceService) *GRPCHandler {
	return &GRPCHandler{marketplace: marketplace}
}

func RegisterListingService(server grpc.ServiceRegistrar, srv ListingServiceServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: listingServiceName,
		HandlerType: (*ListingServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "CreateListing", Handler: unaryHandler("CreateListing", ListingServiceServer.CreateListing)},
			{MethodName: "UpdateListing", Handler: unaryHandler("UpdateListing", ListingServiceServer.UpdateListing)},
			{MethodName: "CancelListing", Handler: unaryHandler("CancelListing", ListingServiceServer.CancelListing)},
			{MethodName: "BuyItem", Handler: unaryHandler("BuyItem", ListingServiceServer.BuyItem)},
			{MethodName: "GetListing", Handler: unaryHandler("GetListing", ListingServiceServer.GetListing)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "marketplace/v1/listing.proto",
	}, srv)
}

func (h *GRPCHandler) CreateListing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	price, err := intField(req, "price")
	if err != nil {
		return nil, err
	}
	event, err := h.marketplace.CreateListing(ctx, keyFromStruct(req), price, stringField(req, "caller"))
	if err != nil {
		return nil, grpcError(err)
	}
	return eventStruct(event)
}

func (h *GRPCHandler) UpdateListing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	price, err := intField(req, "price")
	if err != nil {
		return nil, err
	}
	event, err := h.marketplace.UpdateListing(ctx, keyFromStruct(req), price, stringField(req, "caller"))
	if err != nil {
		return nil, grpcError(err)
	}
	return eventStruct(event)
}

func (h *GRPCHandler) CancelListing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	event, err := h.marketplace.CancelListing(ctx, keyFromStruct(req), stringField(req, "caller"))
	if err != nil {
		return nil, grpcError(err)
	}
	return eventStruct(event)
}

func (h *GRPCHandler) BuyItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	payment, err := intField(req, "payment")
	if err != nil {
		return nil, err
	}
	event, err := h.marketplace.BuyItem(ctx, keyFromStruct(req), stringField(req, "caller"), payment)
	if err != nil {
		return nil, grpcError(err)
	}
	return eventStruct(event)
}

func (h *GRPCHandler) GetListing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key := keyFromStruct(req)
	listing, err := h.marketplace.GetListing(ctx, key)
	if err != nil {
		return nil, grpcError(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"collection": key.Collection,
		"token_id":   key.TokenID,
		"price":      listing.Price,
		"seller":     listing.Seller,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

type unaryMethod func(ListingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		svc := srv.(ListingServiceServer)
		if interceptor == nil {
			return call(svc, ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + listingServiceName + "/" + name,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(svc, ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func keyFromStruct(req *structpb.Struct) domain.ItemKey {
	return domain.ItemKey{
		Collection: stringField(req, "collection"),
		TokenID:    stringField(req, "token_id"),
	}
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// intField reads a whole number; structpb carries numbers as float64.
func intField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing %s", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number", name)
	}
	return int64(f), nil
}

func eventStruct(e domain.Event) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(map[string]any{
		"seq":         e.Seq,
		"id":          e.ID,
		"kind":        string(e.Kind),
		"collection":  e.Key.Collection,
		"token_id":    e.Key.TokenID,
		"price":       e.Price,
		"seller":      e.Seller,
		"buyer":       e.Buyer,
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

var grpcCodes = []struct {
	err  error
	code codes.Code
}{
	{domain.ErrNotListed, codes.NotFound},
	{domain.ErrAlreadyListed, codes.AlreadyExists},
	{domain.ErrNotOwner, codes.PermissionDenied},
	{domain.ErrInsufficientAuthorization, codes.PermissionDenied},
	{domain.ErrInvalidPrice, codes.InvalidArgument},
	{domain.ErrInvalidInput, codes.InvalidArgument},
	{domain.ErrIncorrectPayment, codes.FailedPrecondition},
	{domain.ErrTransferFailed, codes.Aborted},
	{domain.ErrFundsTransferFailed, codes.Aborted},
	{domain.ErrLockTimeout, codes.Unavailable},
}

func grpcError(err error) error {
	for _, m := range grpcCodes {
		if errors.Is(err, m.err) {
			return status.Error(m.code, m.err.Error())
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}
