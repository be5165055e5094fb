// Package docker renders PDF thumbnails with poppler inside throwaway,
// network-less Docker containers.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/flipbook/internal/render"
)

// Renderer implements render.Renderer.
type Renderer struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *pool
}

var _ render.Renderer = (*Renderer)(nil)

// New connects to the Docker daemon from the environment, pulls the image
// and starts the container pool.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Renderer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("render: creating docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("render: docker daemon not reachable: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	logger.Info("ensuring thumbnail image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(pullCtx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("render: pulling %s: %w", cfg.Image, err)
	}
	// The pull finishes when the progress stream ends.
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	r := &Renderer{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   newPool(cli, cfg, logger),
	}
	r.pool.start()
	return r, nil
}

func (r *Renderer) Close() error {
	r.pool.stop()
	return r.cli.Close()
}

// script reads the PDF from stdin and writes page one as PNG to stdout.
func (r *Renderer) script() string {
	return strings.Join([]string{
		"cat > /tmp/in.pdf",
		"pdftoppm -png -f 1 -l 1 -singlefile -scale-to-x " + strconv.Itoa(r.config.Width) + " -scale-to-y -1 /tmp/in.pdf /tmp/thumb",
		"cat /tmp/thumb.png",
	}, " && ")
}

// Thumbnail streams pdf into a pooled container and returns the PNG that
// pdftoppm produced for the first page.
func (r *Renderer) Thumbnail(ctx context.Context, pdf io.Reader) ([]byte, error) {
	start := time.Now()

	id, err := r.pool.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: acquiring container: %w", err)
	}
	defer r.pool.remove(id)

	execCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	execResp, err := r.cli.ContainerExecCreate(execCtx, id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"sh", "-c", r.script()},
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("render: attaching exec: %w", err)
	}
	defer attach.Close()

	go func() {
		_, _ = io.Copy(attach.Conn, pdf)
		_ = attach.CloseWrite()
	}()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("render: reading output: %w", err)
		}
	case <-execCtx.Done():
		return nil, fmt.Errorf("render: timed out after %s: %w", r.config.Timeout, execCtx.Err())
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("render: inspecting exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return nil, fmt.Errorf("render: pdftoppm exited %d: %s", inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	if !render.IsPNG(stdout.Bytes()) {
		return nil, fmt.Errorf("render: output is not a PNG")
	}

	r.logger.Debug("thumbnail rendered",
		slog.Int("bytes", stdout.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return stdout.Bytes(), nil
}
