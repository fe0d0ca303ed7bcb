package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"remotedev/internal/adapter/rpc/jobpb"
)

// Client is a JobService client that attaches the API key to every call.
type Client struct {
	conn   *grpc.ClientConn
	client jobpb.JobServiceClient
	apiKey string
}

// Dial connects to the JobService at addr.
func Dial(addr, apiKey string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jobpb.CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc connect %s: %w", addr, err)
	}
	return &Client{conn: conn, client: jobpb.NewJobServiceClient(conn), apiKey: apiKey}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) ctx(ctx context.Context) context.Context {
	if c.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, APIKeyHeader, c.apiKey)
}

// Submit starts a job.
func (c *Client) Submit(ctx context.Context, req *jobpb.SubmitRequest) (*jobpb.SubmitResponse, error) {
	return c.client.Submit(c.ctx(ctx), req)
}

// Get returns a job snapshot.
func (c *Client) Get(ctx context.Context, id string) (*jobpb.Job, error) {
	return c.client.Get(c.ctx(ctx), &jobpb.GetRequest{JobId: id})
}

// List returns job snapshots matching req.
func (c *Client) List(ctx context.Context, req *jobpb.ListRequest) ([]*jobpb.Job, error) {
	resp, err := c.client.List(c.ctx(ctx), req)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Cancel cancels a job.
func (c *Client) Cancel(ctx context.Context, id string) (*jobpb.CancelResponse, error) {
	return c.client.Cancel(c.ctx(ctx), &jobpb.CancelRequest{JobId: id})
}
