// Package jobpb holds the message types and service descriptors for the
// job gRPC service.
//
// The types are plain Go structs carried by a JSON codec instead of
// protoc-generated code, so building needs no protobuf toolchain.
package jobpb

import (
	"encoding/json"
	"time"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype every call uses.
const CodecName = "json"

func init() {
	// Registered globally; calls opt in with grpc.CallContentSubtype(CodecName).
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc encoding.Codec using JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// Job kinds accepted by Submit.
const (
	KindPrompt  = "prompt"
	KindCommand = "command"
)

// SubmitRequest starts a prompt or command job.
type SubmitRequest struct {
	Kind             string   `json:"kind"`
	ProjectPath      string   `json:"project_path"`
	Prompt           string   `json:"prompt,omitempty"`
	Context          string   `json:"context,omitempty"`
	Files            []string `json:"files,omitempty"`
	Command          string   `json:"command,omitempty"`
	Args             []string `json:"args,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
}

// SubmitResponse carries the new job id.
type SubmitResponse struct {
	JobId  string `json:"job_id"`
	Status string `json:"status"`
}

// GetRequest names a job.
type GetRequest struct {
	JobId string `json:"job_id"`
}

// Job is the wire form of a job snapshot.
type Job struct {
	Id          string    `json:"id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	ProjectPath string    `json:"project_path,omitempty"`
	Command     string    `json:"command,omitempty"`
	Args        []string  `json:"args,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
}

// ListRequest filters List.
type ListRequest struct {
	ProjectPath string `json:"project_path,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ListResponse holds job snapshots.
type ListResponse struct {
	Jobs []*Job `json:"jobs"`
}

// CancelRequest names a job to cancel.
type CancelRequest struct {
	JobId string `json:"job_id"`
}

// CancelResponse acknowledges a cancellation.
type CancelResponse struct {
	JobId  string `json:"job_id"`
	Status string `json:"status"`
}
