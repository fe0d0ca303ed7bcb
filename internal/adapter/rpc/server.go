// Package rpc serves the job registry over gRPC and provides the matching
// client.
package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"remotedev/internal/adapter/cli"
	"remotedev/internal/adapter/rpc/jobpb"
	"remotedev/internal/domain"
	"remotedev/internal/usecase/job"
)

// APIKeyHeader is the metadata key carrying the API key.
const APIKeyHeader = "x-api-key"

// Jobs is the job registry.
type Jobs interface {
	Submit(ctx context.Context, kind domain.JobKind, meta job.Meta, exec job.Executor) (string, error)
	Get(id string) (domain.Job, error)
	List() []domain.Job
	Cancel(ctx context.Context, id string) error
}

// Builder turns requests into job executors.
type Builder interface {
	Prompt(req cli.PromptRequest) (job.Meta, job.Executor, error)
	Command(req cli.CommandRequest) (job.Meta, job.Executor, error)
}

// Service implements jobpb.JobServiceServer.
type Service struct {
	jobpb.UnimplementedJobServiceServer
	jobs    Jobs
	builder Builder
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(jobs Jobs, builder Builder, logger *slog.Logger) *Service {
	return &Service{jobs: jobs, builder: builder, logger: logger.With(slog.String("component", "rpc"))}
}

func (s *Service) Submit(ctx context.Context, req *jobpb.SubmitRequest) (*jobpb.SubmitResponse, error) {
	var (
		kind domain.JobKind
		meta job.Meta
		exec job.Executor
		err  error
	)
	switch req.Kind {
	case jobpb.KindPrompt:
		kind = domain.JobKindPrompt
		meta, exec, err = s.builder.Prompt(cli.PromptRequest{
			ProjectPath: req.ProjectPath,
			Prompt:      req.Prompt,
			Context:     req.Context,
			Files:       req.Files,
		})
	case jobpb.KindCommand:
		kind = domain.JobKindCommand
		meta, exec, err = s.builder.Command(cli.CommandRequest{
			ProjectPath:      req.ProjectPath,
			Command:          req.Command,
			Args:             req.Args,
			WorkingDirectory: req.WorkingDirectory,
		})
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown job kind %q", req.Kind)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	id, err := s.jobs.Submit(ctx, kind, meta, exec)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("job submitted over rpc", "job_id", id, "kind", req.Kind)
	return &jobpb.SubmitResponse{JobId: id, Status: string(domain.JobPending)}, nil
}

func (s *Service) Get(_ context.Context, req *jobpb.GetRequest) (*jobpb.Job, error) {
	j, err := s.jobs.Get(req.JobId)
	if err != nil {
		return nil, toStatus(err)
	}
	return toWire(j), nil
}

func (s *Service) List(_ context.Context, req *jobpb.ListRequest) (*jobpb.ListResponse, error) {
	out := &jobpb.ListResponse{Jobs: []*jobpb.Job{}}
	for _, j := range s.jobs.List() {
		if req.ProjectPath != "" && j.ProjectPath != req.ProjectPath {
			continue
		}
		if req.Status != "" && string(j.Status) != req.Status {
			continue
		}
		out.Jobs = append(out.Jobs, toWire(j))
	}
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, req *jobpb.CancelRequest) (*jobpb.CancelResponse, error) {
	if err := s.jobs.Cancel(ctx, req.JobId); err != nil {
		return nil, toStatus(err)
	}
	return &jobpb.CancelResponse{JobId: req.JobId, Status: "cancelled"}, nil
}

// NewServer builds a gRPC server exposing svc. A non-empty apiKey is
// required in the x-api-key metadata of every call.
func NewServer(svc *Service, apiKey string) *grpc.Server {
	var opts []grpc.ServerOption
	if apiKey != "" {
		opts = append(opts, grpc.UnaryInterceptor(apiKeyInterceptor(apiKey)))
	}
	s := grpc.NewServer(opts...)
	jobpb.RegisterJobServiceServer(s, svc)
	return s
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func Serve(ctx context.Context, s *grpc.Server, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()
	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func apiKeyInterceptor(key string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var presented string
		if v := md.Get(APIKeyHeader); len(v) > 0 {
			presented = v[0]
		} else if v := md.Get("authorization"); len(v) > 0 {
			presented = strings.TrimPrefix(v[0], "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing API key")
		}
		return handler(ctx, req)
	}
}

// toStatus maps a domain error onto a gRPC status.
func toStatus(err error) error {
	code := codes.Internal
	switch domain.ClassOf(err) {
	case domain.ClassNotFound:
		code = codes.NotFound
	case domain.ClassInput:
		code = codes.InvalidArgument
	case domain.ClassPermission:
		code = codes.PermissionDenied
	case domain.ClassExecution:
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func toWire(j domain.Job) *jobpb.Job {
	return &jobpb.Job{
		Id:          j.ID,
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		ProjectPath: j.ProjectPath,
		Command:     j.Command,
		Args:        j.Args,
		Result:      j.Result,
		Error:       j.Error,
		SubmittedAt: j.SubmittedAt,
		UpdatedAt:   j.UpdatedAt,
		DurationMs:  j.DurationMs,
	}
}
