package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/moby/go-archive"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/poltergeist/dockerstage/pkg/types"
)

// dockerAPI is the part of the Docker client DockerEngine calls
type dockerAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	Close() error
}

// DockerEngine talks to a Docker daemon over its HTTP API
type DockerEngine struct {
	api  dockerAPI
	host string
}

var _ Engine = (*DockerEngine)(nil)

// DockerFactory opens DockerEngine connections
type DockerFactory struct {
	// Getenv is used to resolve unset configuration. Defaults to os.Getenv.
	Getenv func(string) string
}

// Open resolves cfg against the environment and creates a client
func (f DockerFactory) Open(_ context.Context, cfg types.EngineConfig) (Engine, error) {
	return NewDockerEngine(ResolveConfig(cfg, f.Getenv))
}

// NewDockerEngine creates a client for an already resolved configuration.
// No connection is made until the first call.
func NewDockerEngine(cfg types.EngineConfig) (*DockerEngine, error) {
	opts := []client.Opt{client.WithHost(cfg.Host)}

	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	if cfg.TLSVerify {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(cfg.CertPath, "ca.pem"),
			filepath.Join(cfg.CertPath, "cert.pem"),
			filepath.Join(cfg.CertPath, "key.pem"),
		))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, &ConnectError{Host: cfg.Host, Err: err}
	}

	return &DockerEngine{api: cli, host: cfg.Host}, nil
}

// Host returns the daemon address
func (e *DockerEngine) Host() string {
	return e.host
}

// Build tars contextDir and starts a build. The classic builder options map
// one-to-one onto opts; intermediate containers are always removed on success.
func (e *DockerEngine) Build(ctx context.Context, contextDir string, opts types.BuildOptions) (Stream, error) {
	excludes, err := readDockerignore(contextDir)
	if err != nil {
		return nil, err
	}

	buildContext, err := archive.TarWithOptions(contextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := e.api.ImageBuild(ctx, buildContext, BuildOptionsFor(opts))
	if err != nil {
		return nil, err
	}

	return NewJSONStream(resp.Body), nil
}

// BuildOptionsFor maps workflow build options onto the Docker API
func BuildOptionsFor(opts types.BuildOptions) build.ImageBuildOptions {
	return build.ImageBuildOptions{
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: opts.ForceRemove,
		NoCache:     opts.NoCache,
		PullParent:  opts.Pull,
	}
}

// Tag points repository:tag at imageID
func (e *DockerEngine) Tag(ctx context.Context, imageID, repository, tag string) error {
	return e.api.ImageTag(ctx, imageID, repository+":"+tag)
}

// Push uploads repository:tag
func (e *DockerEngine) Push(ctx context.Context, repository, tag string, auth *Credentials) (Stream, error) {
	encoded, err := EncodeCredentials(auth)
	if err != nil {
		return nil, err
	}

	body, err := e.api.ImagePush(ctx, repository+":"+tag, image.PushOptions{
		RegistryAuth: encoded,
	})
	if err != nil {
		return nil, err
	}

	return NewJSONStream(body), nil
}

// EncodeCredentials returns the X-Registry-Auth value for auth. A nil auth
// encodes an empty config, which older daemons require for anonymous pushes.
func EncodeCredentials(auth *Credentials) (string, error) {
	cfg := registry.AuthConfig{}
	if auth != nil {
		cfg = registry.AuthConfig{
			Username:      auth.Username,
			Password:      auth.Password,
			IdentityToken: auth.IdentityToken,
			ServerAddress: auth.ServerAddress,
		}
	}

	encoded, err := registry.EncodeAuthConfig(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode registry credentials: %w", err)
	}
	return encoded, nil
}

// Remove deletes imageID together with its untagged parents
func (e *DockerEngine) Remove(ctx context.Context, imageID string, force bool) error {
	_, err := e.api.ImageRemove(ctx, imageID, image.RemoveOptions{
		Force:         force,
		PruneChildren: true,
	})
	return err
}

// Close releases the client's idle connections
func (e *DockerEngine) Close() error {
	return e.api.Close()
}

// readDockerignore returns the exclude patterns of contextDir/.dockerignore.
// The Dockerfile and the ignore file itself are always sent.
func readDockerignore(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	excludes, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	if len(excludes) == 0 {
		return nil, nil
	}

	return append(excludes, "!Dockerfile", "!.dockerignore"), nil
}
