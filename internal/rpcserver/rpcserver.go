// Package rpcserver exposes the data stream's StreamData and Status RPCs
// over grpc, in the style of the teacher's beacon-chain/rpc package (one
// Service owning a net.Listener and a *grpc.Server, started in the
// background and torn down with GracefulStop). Since no protoc toolchain is
// available in this environment, the service descriptor below is built by
// hand instead of generated from a .proto file, dispatching through the
// dna-msgpack codec (proto/dna) so the wire format still needs no generated
// marshal code.
package rpcserver

import (
	"context"
	"fmt"
	"net"

	middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/apibara/dna/internal/datastream"
	"github.com/apibara/dna/internal/dnaerr"
	dna "github.com/apibara/dna/proto/dna"
)

var log = logrus.WithField("prefix", "rpcserver")

const serviceName = "dna.v2.Stream"

// Service implements svc.Service: Start listens and serves in the
// background, Stop gracefully drains in-flight streams.
type Service struct {
	addr   string
	server *datastream.Server

	listener   net.Listener
	grpcServer *grpc.Server
	serveErr   error
}

// New builds a Service bound to addr (e.g. ":7171") that dispatches to
// server.
func New(addr string, server *datastream.Server) *Service {
	return &Service{addr: addr, server: server}
}

// Start begins listening and serving in the background. Errors encountered
// setting up the listener are surfaced through Status rather than a panic,
// matching the teacher's rpc.Service.Start.
func (s *Service) Start() {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.serveErr = dnaerr.Wrap(dnaerr.Configuration, err, "rpcserver: listen")
		log.WithError(err).Error("failed to listen")
		return
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(dna.Codec()),
		grpc.StreamInterceptor(middleware.ChainStreamServer(
			recovery.StreamServerInterceptor(),
			grpc_prometheus.StreamServerInterceptor,
		)),
		grpc.UnaryInterceptor(middleware.ChainUnaryServer(
			recovery.UnaryServerInterceptor(),
			grpc_prometheus.UnaryServerInterceptor,
		)),
	)
	s.grpcServer.RegisterService(&serviceDesc, s)
	reflection.Register(s.grpcServer)

	log.WithField("addr", s.addr).Info("rpc server listening")
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("grpc serve exited")
		}
	}()
}

// Stop gracefully drains active streams and closes the listener.
func (s *Service) Stop() error {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	return nil
}

// Status reports whether the listener started successfully.
func (s *Service) Status() error {
	return s.serveErr
}

// grpcSender adapts a grpc.ServerStream to datastream.Sender.
type grpcSender struct {
	stream grpc.ServerStream
}

func (g grpcSender) Send(ctx context.Context, resp dna.StreamDataResponse) error {
	return g.stream.SendMsg(&resp)
}

// streamData is the StreamData RPC's hand-written handler: it decodes the
// single request message off the stream, then runs the Stream until the
// client disconnects or the server stops.
func streamData(srv any, stream grpc.ServerStream) error {
	s := srv.(*Service)

	streamID := uuid.NewString()
	streamLog := log.WithField("stream_id", streamID)

	var req dna.StreamDataRequest
	if err := stream.RecvMsg(&req); err != nil {
		return fmt.Errorf("rpcserver: receive StreamDataRequest: %w", err)
	}

	filter := mergeFilters(req.Filter)
	finality := finalityModeFor(req.Finality)
	startingCursor := cursorFromWire(req.StartingCursor)
	heartbeat := heartbeatFor(req.HeartbeatInterval)

	streamLog.WithField("starting_cursor", startingCursor).Info("stream opened")
	err := s.server.StreamData(stream.Context(), filter, finality, startingCursor, heartbeat, grpcSender{stream: stream})
	if err != nil {
		streamLog.WithError(err).Warn("stream closed")
	} else {
		streamLog.Info("stream closed")
	}
	return err
}

// status is the Status{} RPC's hand-written unary handler.
func status(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*Service)

	var req dna.StatusRequest
	if err := dec(&req); err != nil {
		return nil, err
	}

	lastIngested, lastFinalized, chainTip, err := s.server.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &dna.StatusResponse{
		LastIngested:  wireCursor(lastIngested),
		LastFinalized: wireCursor(lastFinalized),
		ChainTip:      wireCursor(chainTip),
	}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: status},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamData", Handler: streamData, ServerStreams: true},
	},
	Metadata: "dna/stream.proto",
}
