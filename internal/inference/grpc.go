package inference

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/alquery/internal/al"
)

// Detector service identifiers. Requests and responses are
// google.protobuf.Struct messages so the Python side needs no generated
// code beyond the well-known types.
const (
	DetectorServiceName = "alquery.inference.v1.Detector"
	PredictMethod       = "/" + DetectorServiceName + "/Predict"
)

// DefaultBatchSize is the number of frames sent per Predict call.
const DefaultBatchSize = 16

// GRPCOptions tunes a GRPCRunner.
type GRPCOptions struct {
	// BatchSize is the number of frames per Predict call; 0 means DefaultBatchSize.
	BatchSize int
	// Timeout bounds each Predict call; 0 leaves the caller's deadline alone.
	Timeout time.Duration
}

// GRPCRunner runs inference on a remote detector service.
type GRPCRunner struct {
	conn    *grpc.ClientConn
	batch   int
	timeout time.Duration
}

// NewGRPCRunner connects to the detector service at addr.
func NewGRPCRunner(addr string, opts GRPCOptions) (*GRPCRunner, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return NewGRPCRunnerWithConn(conn, opts), nil
}

// NewGRPCRunnerWithConn wraps an existing connection. Used by tests with
// an in-process listener.
func NewGRPCRunnerWithConn(conn *grpc.ClientConn, opts GRPCOptions) *GRPCRunner {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &GRPCRunner{conn: conn, batch: batch, timeout: opts.Timeout}
}

// Close shuts down the gRPC connection.
func (r *GRPCRunner) Close() error {
	return r.conn.Close()
}

// Infer implements Runner. Frames are sent in batches; the first failing
// batch aborts the call.
func (r *GRPCRunner) Infer(ctx context.Context, frames []string) ([]al.Detection, error) {
	all := make([]al.Detection, 0, len(frames))
	for start := 0; start < len(frames); start += r.batch {
		end := start + r.batch
		if end > len(frames) {
			end = len(frames)
		}
		dets, err := r.predict(ctx, frames[start:end])
		if err != nil {
			return nil, fmt.Errorf("predict frames %d-%d: %w", start, end-1, err)
		}
		all = append(all, dets...)
	}
	logf("received %d records for %d frames", len(all), len(frames))
	return Align(frames, all)
}

func (r *GRPCRunner) predict(ctx context.Context, frames []string) ([]al.Detection, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req, err := FrameRequest(frames)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		return nil, err
	}
	return DetectionsFromStruct(resp)
}

// DetectorServer is the server side of the detector service.
type DetectorServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// DetectorServiceDesc describes the detector service for grpc.Server.
var DetectorServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectorServiceName,
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alquery/inference/v1/detector.proto",
}

// RegisterDetectorServer registers srv on s.
func RegisterDetectorServer(s grpc.ServiceRegistrar, srv DetectorServer) {
	s.RegisterService(&DetectorServiceDesc, srv)
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectorServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ReplayServer answers Predict calls from another Runner, typically a
// FileRunner over a saved inference pass.
type ReplayServer struct {
	runner Runner
}

var _ DetectorServer = (*ReplayServer)(nil)

// NewReplayServer returns a server backed by r.
func NewReplayServer(r Runner) *ReplayServer {
	return &ReplayServer{runner: r}
}

// Predict implements DetectorServer.
func (s *ReplayServer) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	frames, err := FramesFromRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	dets, err := s.runner.Infer(ctx, frames)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "inference failed: %v", err)
	}
	resp, err := DetectionsToStruct(dets)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}
