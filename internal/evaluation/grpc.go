package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// SubmitMethod is the full gRPC method name of the evaluator's report call.
// Request and response are google.protobuf.Struct.
const SubmitMethod = "/honeypot.v1.EvaluationService/SubmitFinalResult"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcSubmitterConfig holds gRPC connection settings.
type GrpcSubmitterConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcSubmitterConfig returns defaults for addr.
func DefaultGrpcSubmitterConfig(addr string) GrpcSubmitterConfig {
	return GrpcSubmitterConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcSubmitter delivers reports over gRPC.
type GrpcSubmitter struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcSubmitter dials the evaluator and waits until the connection is
// ready so a bad address fails at startup.
func NewGrpcSubmitter(cfg GrpcSubmitterConfig, logger *slog.Logger) (*GrpcSubmitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("evaluator gRPC address is required")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluator client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("evaluator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to evaluation service", "address", cfg.Address)
	return &GrpcSubmitter{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Submit sends the payload as a Struct.
func (s *GrpcSubmitter) Submit(ctx context.Context, payload domain.FinalResultPayload) (*Ack, error) {
	req, err := toStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrSubmissionFailed, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	attemptID := newAttemptID()
	ctx = metadata.AppendToOutgoingContext(ctx, "idempotency-key", payload.SessionID, "x-attempt-id", attemptID)

	var resp structpb.Struct
	if err := s.conn.Invoke(ctx, SubmitMethod, req, &resp); err != nil {
		s.logger.Warn("final result submission failed", "session_id", payload.SessionID, "attempt_id", attemptID, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}

	body, _ := protojson.Marshal(&resp)
	s.logger.Info("final result submitted", "session_id", payload.SessionID, "attempt_id", attemptID, "address", s.addr)
	return &Ack{AttemptID: attemptID, Body: string(body), AcceptedAt: time.Now()}, nil
}

// Health checks the evaluator's standard health service.
func (s *GrpcSubmitter) Health(ctx context.Context) error {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("evaluator health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("evaluator not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (s *GrpcSubmitter) Close() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func toStruct(payload domain.FinalResultPayload) (*structpb.Struct, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
