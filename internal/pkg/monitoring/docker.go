package monitoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// containerAPI is the slice of the Docker client the collector needs.
type containerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

type DockerCollector struct {
	api containerAPI
}

// NewDockerCollector connects using DOCKER_HOST and friends from the environment.
func NewDockerCollector() (*DockerCollector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerCollector{api: cli}, nil
}

func (c *DockerCollector) Containers(ctx context.Context) (map[string]string, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make(map[string]string, len(list))
	for _, ctr := range list {
		name := ctr.ID
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		out[name] = strings.ToLower(string(ctr.State))
	}
	return out, nil
}

func (c *DockerCollector) Close() error {
	return c.api.Close()
}
