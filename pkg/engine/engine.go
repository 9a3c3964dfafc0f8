// Package engine abstracts the container engine used to build, tag, push and
// remove images.
package engine

import (
	"context"
	"strings"

	"github.com/poltergeist/dockerstage/pkg/types"
)

//go:generate mockgen -destination=../mocks/engine_mock.go -package=mocks github.com/poltergeist/dockerstage/pkg/engine Engine,Stream,Factory

// Engine is the subset of a Docker-compatible engine API the build workflow
// needs. Implementations hold a connection and must be closed.
type Engine interface {
	// Build sends contextDir as the build context and returns the build
	// event stream. Options are passed through unchanged.
	Build(ctx context.Context, contextDir string, opts types.BuildOptions) (Stream, error)
	// Tag points repository:tag at imageID
	Tag(ctx context.Context, imageID, repository, tag string) error
	// Push uploads repository:tag and returns the push event stream.
	// A nil auth pushes anonymously.
	Push(ctx context.Context, repository, tag string, auth *Credentials) (Stream, error)
	// Remove deletes imageID
	Remove(ctx context.Context, imageID string, force bool) error
	// Close releases the connection
	Close() error
}

// Stream is a pull-based sequence of engine events. Next returns io.EOF once
// the engine has finished sending.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// Factory opens engines
type Factory interface {
	Open(ctx context.Context, cfg types.EngineConfig) (Engine, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, cfg types.EngineConfig) (Engine, error)

// Open calls f
func (f FactoryFunc) Open(ctx context.Context, cfg types.EngineConfig) (Engine, error) {
	return f(ctx, cfg)
}

// Event is one message from a build or push stream
type Event struct {
	// Stream is a build log line
	Stream string
	// Status is a progress status such as "Pushing" or "Layer already exists"
	Status string
	// ID is the layer or tag the status refers to
	ID string
	// Progress is the rendered progress bar, if any
	Progress string
	// Error is set when the engine reports a failure
	Error string
	// ImageID is set on the event that reports the built image
	ImageID string
	// Digest is set on the event that reports a pushed manifest
	Digest string
}

// IsError reports whether the event carries an engine failure
func (e Event) IsError() bool {
	return e.Error != ""
}

// LogLine returns the build log text with trailing whitespace removed.
// Status-only events have no log line.
func (e Event) LogLine() string {
	return strings.TrimRight(e.Stream, " \t\r\n")
}

// Credentials are registry credentials forwarded to the engine on push
type Credentials struct {
	Username      string
	Password      string
	IdentityToken string
	ServerAddress string
}
