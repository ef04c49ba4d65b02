// Package grpcserver exposes the engine as the epochbook.v1.BookService
// gRPC service. Messages are google.protobuf.Struct values, so no generated
// stubs are needed on either side.
package grpcserver

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"epochbook/domain/orderbook"
	"epochbook/service"
)

const ServiceName = "epochbook.v1.BookService"

// Engine is the part of service.Engine the API needs.
type Engine interface {
	Insert(ev orderbook.Event) (string, error)
	Update(ev orderbook.Event) error
	Delete(symbol string, id, epoch uint64) error
	QueryTimestamp(symbol string, epoch uint64) (orderbook.Snapshot, error)
	QueryMultiple(ctx context.Context, symbol string, epochs []uint64) ([]orderbook.Snapshot, error)
	Ingest(ctx context.Context, symbol string, events []orderbook.Event) (int, error)
}

// BookServer is the service contract registered with grpc.
type BookServer interface {
	Insert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueryMultiple(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	engine Engine
	log    *logrus.Entry
}

func NewServer(engine Engine, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{engine: engine, log: log}
}

// Register installs s on g.
func (s *Server) Register(g grpc.ServiceRegistrar) {
	g.RegisterService(&ServiceDesc, s)
}

// -------------------- Commands --------------------

func (s *Server) Insert(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ev, err := decodeEvent(req)
	if err != nil {
		return nil, toStatus(err)
	}
	path, err := s.engine.Insert(ev)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"path": path})
}

func (s *Server) Update(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ev, err := decodeEvent(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.engine.Update(ev); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"status": "ok"})
}

func (s *Server) Delete(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := stringField(req, "symbol")
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := uintField(req, "id")
	if err != nil {
		return nil, toStatus(err)
	}
	epoch, err := uintField(req, "epoch")
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.engine.Delete(symbol, id, epoch); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"status": "ok"})
}

// Ingest loads an inline order log given as "lines". Server-side files are
// not reachable through the API; cmd/ingest loads those locally.
func (s *Server) Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := stringField(req, "symbol")
	if err != nil {
		return nil, toStatus(err)
	}
	if _, ok := req.GetFields()["path"]; ok {
		return nil, toStatus(errors.Wrap(errBadRequest, "path is not accepted, send lines"))
	}
	lines, err := stringList(req, "lines")
	if err != nil {
		return nil, toStatus(err)
	}

	events, err := service.ReadLog(strings.NewReader(strings.Join(lines, "\n")), symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	n, err := s.engine.Ingest(ctx, symbol, events)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"ingested": float64(n)})
}

// -------------------- Queries --------------------

func (s *Server) Query(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := stringField(req, "symbol")
	if err != nil {
		return nil, toStatus(err)
	}
	epoch, err := uintField(req, "epoch")
	if err != nil {
		return nil, toStatus(err)
	}
	snap, err := s.engine.QueryTimestamp(symbol, epoch)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(encodeSnapshot(snap))
}

func (s *Server) QueryMultiple(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := stringField(req, "symbol")
	if err != nil {
		return nil, toStatus(err)
	}
	raw, err := stringList(req, "epochs")
	if err != nil {
		return nil, toStatus(err)
	}
	epochs := make([]uint64, len(raw))
	for i := range raw {
		if epochs[i], err = parseUint(raw[i]); err != nil {
			return nil, toStatus(errors.Wrapf(errBadRequest, "epochs[%d] %q", i, raw[i]))
		}
	}

	snaps, err := s.engine.QueryMultiple(ctx, symbol, epochs)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]any, len(snaps))
	for i, snap := range snaps {
		out[i] = encodeSnapshot(snap)
	}
	return toStruct(map[string]any{"snapshots": out})
}

// -------------------- Errors --------------------

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, service.ErrInvalidInitialEvent):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, service.ErrAmbiguousTrade),
		errors.Is(err, service.ErrUnroutable):
		code = codes.FailedPrecondition
	case errors.Is(err, service.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// UnaryLogger logs every call with its outcome.
func UnaryLogger(log *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start),
		})
		switch status.Code(err) {
		case codes.OK:
			entry.Debug("grpc call")
		case codes.Internal, codes.Unknown:
			entry.WithError(err).Error("grpc call failed")
		default:
			entry.WithError(err).Warn("grpc call rejected")
		}
		return resp, err
	}
}

func stringList(s *structpb.Struct, key string) ([]string, error) {
	v, ok := s.GetFields()[key]
	if !ok || v.GetListValue() == nil {
		return nil, errors.Wrapf(errBadRequest, "%s must be a list", key)
	}
	vals := v.GetListValue().GetValues()
	out := make([]string, len(vals))
	for i, item := range vals {
		str, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.Wrapf(errBadRequest, "%s[%d] must be a string", key, i)
		}
		out[i] = str.StringValue
	}
	return out, nil
}
