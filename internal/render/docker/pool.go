package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// pool keeps Config.PoolSize sandbox containers started and idle so a render
// does not pay container start-up. Containers are single use.
type pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

func newPool(cli *client.Client, cfg Config, logger *slog.Logger) *pool {
	return &pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

func (p *pool) start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting thumbnail container pool", slog.Int("size", p.config.PoolSize))
		p.wg.Add(1)
		go p.fill()
	})
}

// stop ends the fill loop and removes idle containers.
func (p *pool) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		for {
			select {
			case id := <-p.containers:
				p.remove(id)
			default:
				return
			}
		}
	})
}

// acquire blocks until a container is ready or ctx is done.
func (p *pool) acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("thumbnail pool stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *pool) fill() {
	defer p.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.containers) == cap(p.containers) {
			select {
			case <-p.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		id, err := p.create()
		if err != nil {
			p.logger.Error("creating thumbnail container", slog.String("error", err.Error()))
			select {
			case <-p.done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		select {
		case p.containers <- id:
		case <-p.done:
			p.remove(id)
			return
		}
	}
}

// create starts an idle container with no network and a read-only root
// filesystem. Only /tmp is writable.
func (p *pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=" + p.config.TmpfsSize},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.config.Image,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		User:       "nobody",
		WorkingDir: "/tmp",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", fmt.Errorf("ContainerStart: %w", err)
	}
	return resp.ID, nil
}

func (p *pool) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("removing thumbnail container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
