package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/nstogner/companion/pkg/runtime"
)

// Monitor implements runtime.Monitor using the Docker engine API.
type Monitor struct {
	client *client.Client
}

// Verify interface compliance.
var _ runtime.Monitor = (*Monitor)(nil)

// New creates a Docker client from the environment (DOCKER_HOST etc).
func New() (*Monitor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Monitor{client: cli}, nil
}

// Status returns the state of the container with exactly this name.
func (m *Monitor) Status(ctx context.Context, name string) (string, error) {
	containers, err := m.client.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", nameFilter(name))),
	})
	if err != nil {
		return runtime.StateUnknown, err
	}
	for _, c := range containers {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == strings.TrimPrefix(name, "/") {
				return stateOf(c.State), nil
			}
		}
	}
	return runtime.StateMissing, nil
}

// Close releases the Docker client resources.
func (m *Monitor) Close() error {
	return m.client.Close()
}

// nameFilter anchors name so that "ollama" does not match "ollama-webui".
func nameFilter(name string) string {
	return "^/" + strings.TrimPrefix(name, "/") + "$"
}

func stateOf(s string) string {
	if s == "" {
		return runtime.StateUnknown
	}
	return s
}
