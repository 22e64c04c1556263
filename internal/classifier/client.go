// Package classifier talks to the remote model service over gRPC.
package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"perceptor/pkg/types"
)

// Model service methods
const (
	ServiceName            = "perceptor.v1.Perception"
	classifyMethod         = "/" + ServiceName + "/Classify"
	extractLandmarksMethod = "/" + ServiceName + "/ExtractLandmarks"
)

// Defaults for the model service connection
const (
	// DefaultMatchThreshold is the face-match distance above which the
	// service labels a face "stranger"
	DefaultMatchThreshold = 0.4
	DefaultTimeout        = 5 * time.Second
	DefaultMaxMessageSize = 50 * 1024 * 1024
)

// Response status values
const (
	statusOK     = "ok"
	statusNoFace = "no_face"
	statusError  = "error"
)

// Config configures the model service client
type Config struct {
	Address        string
	Timeout        time.Duration
	MatchThreshold float64
}

// Client implements interfaces.Classifier and interfaces.LandmarkExtractor
// ARCHITECTURAL DISCOVERY: Requests and responses are structpb.Struct so the
// model service can evolve its payload without regenerated stubs
type Client struct {
	conn      *grpc.ClientConn
	health    healthpb.HealthClient
	timeout   time.Duration
	threshold float64
	logger    *slog.Logger
}

// New creates a client. The connection is established lazily on the first
// call; extra options are appended to the defaults.
func New(cfg Config, logger *slog.Logger, extra ...grpc.DialOption) (*Client, error) {
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(DefaultMaxMessageSize),
			grpc.MaxCallSendMsgSize(DefaultMaxMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create model service client for %s: %w", cfg.Address, err)
	}

	logger = logger.With("component", "classifier")
	logger.Info("model service client created", "address", cfg.Address, "timeout", cfg.Timeout)

	return &Client{
		conn:      conn,
		health:    healthpb.NewHealthClient(conn),
		timeout:   cfg.Timeout,
		threshold: cfg.MatchThreshold,
		logger:    logger,
	}, nil
}

// Classify runs the kind-specific model on one frame
func (c *Client) Classify(ctx context.Context, kind types.StreamKind, frame []byte) (types.Result, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"kind":            string(kind),
		"image":           base64.StdEncoding.EncodeToString(frame),
		"match_threshold": c.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("could not build classify request: %w", err)
	}

	resp, err := c.invoke(ctx, classifyMethod, req)
	if err != nil {
		return nil, fmt.Errorf("could not classify frame: %w", err)
	}
	return parseResult(resp)
}

// ExtractLandmarks returns the ordered landmark set, or nil when the frame
// has no face
func (c *Client) ExtractLandmarks(ctx context.Context, frame []byte) ([]types.Point, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return nil, fmt.Errorf("could not build landmark request: %w", err)
	}

	resp, err := c.invoke(ctx, extractLandmarksMethod, req)
	if err != nil {
		return nil, fmt.Errorf("could not extract landmarks: %w", err)
	}
	return parsePoints(resp)
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		// TECHNICAL DISCOVERY: status errors do not unwrap to context errors,
		// so deadline expiry is re-wrapped for callers that test errors.Is
		if status.Code(err) == codes.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, err
	}
	return resp, nil
}

// Ready reports whether the connection is usable; an idle connection
// counts as ready because it reconnects on the next call
func (c *Client) Ready() bool {
	switch c.conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	default:
		return true
	}
}

// HealthCheck asks the model service's standard health endpoint
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("model service health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrServiceNotServing, resp.GetStatus())
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
