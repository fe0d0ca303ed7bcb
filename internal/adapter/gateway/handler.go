package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"remotedev/internal/domain"
)

// JobService is the part of the job registry exposed over RPC.
type JobService interface {
	Get(id string) (domain.Job, error)
	List() []domain.Job
	Cancel(ctx context.Context, id string) error
}

// DevServerLister lists dev server records.
type DevServerLister interface {
	List(projectPath string) []domain.DevServer
}

// HandlerDeps holds the collaborators RPC handlers call into.
type HandlerDeps struct {
	Jobs       JobService
	DevServers DevServerLister
}

// RegisterDefaultHandlers registers the job and dev server RPC methods.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	if deps.Jobs != nil {
		s.RegisterHandler("job.get", jobGetHandler(deps))
		s.RegisterHandler("job.list", jobListHandler(deps))
		s.RegisterHandler("job.cancel", jobCancelHandler(deps))
	}
	if deps.DevServers != nil {
		s.RegisterHandler("devserver.list", devServerListHandler(deps))
	}
}

type jobRequest struct {
	JobID string `json:"jobId"`
}

func decodeJobID(payload json.RawMessage) (string, error) {
	var req jobRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.JobID == "" {
		return "", fmt.Errorf("jobId is required: %w", domain.ErrRPCInvalidPayload)
	}
	return req.JobID, nil
}

func jobGetHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		id, err := decodeJobID(payload)
		if err != nil {
			return nil, err
		}
		job, err := deps.Jobs.Get(id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(job)
	}
}

func jobListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Jobs.List())
	}
}

func jobCancelHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		id, err := decodeJobID(payload)
		if err != nil {
			return nil, err
		}
		if err := deps.Jobs.Cancel(ctx, id); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"jobId": id, "status": "cancelled"})
	}
}

func devServerListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req projectPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
			}
		}
		return json.Marshal(deps.DevServers.List(req.ProjectPath))
	}
}
