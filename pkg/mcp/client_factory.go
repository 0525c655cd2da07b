package mcp

import (
	"context"

	"github.com/artificer-dev/artificer/pkg/config"
)

// ClientFactory creates Client instances from the server registry.
type ClientFactory struct {
	registry *config.MCPServerRegistry

	// Test seam: when set, CreateClient delegates here instead of the real
	// Initialize() transport path. See NewTestClientFactory.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *config.MCPServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// CreateClient creates a new Client connected to the specified servers.
// Connection failures are recorded on the client, not returned; check
// FailedServers() when startup requires every server to be reachable.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // Clean up partial initialization
		return nil, err
	}
	return client, nil
}
