// Package builders drives the image lifecycle: build, tag, push and remove.
package builders

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/distribution/reference"

	dcontext "github.com/poltergeist/dockerstage/pkg/context"
	"github.com/poltergeist/dockerstage/pkg/engine"
	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/types"
)

// DockerBuilder runs lifecycle steps against one open engine connection
type DockerBuilder struct {
	engine      engine.Engine
	logger      logger.Logger
	credentials CredentialLookup
}

// Option configures a DockerBuilder
type Option func(*DockerBuilder)

// WithCredentials sets how push credentials are found
func WithCredentials(lookup CredentialLookup) Option {
	return func(b *DockerBuilder) {
		b.credentials = lookup
	}
}

// NewDockerBuilder creates a builder. The caller owns eng and closes it.
func NewDockerBuilder(eng engine.Engine, log logger.Logger, opts ...Option) *DockerBuilder {
	b := &DockerBuilder{
		engine:      eng,
		logger:      log,
		credentials: DockerConfigCredentials,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build builds stagingRoot and returns the new image's identity with only the
// ID set. Every build log line is forwarded to the logger at info level.
func (b *DockerBuilder) Build(ctx context.Context, stagingRoot string, opts types.BuildOptions) (*types.ImageIdentity, error) {
	log := logger.WithContext(dcontext.WithStage(ctx, "build"), b.logger)

	stream, err := b.engine.Build(ctx, stagingRoot, opts)
	if err != nil {
		return nil, &BuildError{Context: stagingRoot, Err: err}
	}
	defer stream.Close()

	var imageID string
	for {
		event, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &BuildError{Context: stagingRoot, Err: err}
		}

		if event.IsError() {
			return nil, &BuildError{Context: stagingRoot, Err: engineError(event.Error)}
		}

		if line := event.LogLine(); line != "" {
			log.Info(line)
		} else if event.Status != "" {
			log.Debug(event.Status, logger.WithField("id", event.ID))
		}

		if event.ImageID != "" {
			imageID = event.ImageID
		}
	}

	if imageID == "" {
		return nil, &BuildError{Context: stagingRoot, Err: ErrNoImageID}
	}

	return &types.ImageIdentity{ID: imageID}, nil
}

// ApplyTags tags id as imageName:tag for every requested tag, in order, and
// returns the completed identity. No requested tags means "latest". Every
// reference is validated before the engine is asked to tag anything; after
// that the first rejected tag stops tagging.
func (b *DockerBuilder) ApplyTags(ctx context.Context, id *types.ImageIdentity, requestedTags []string, imageName string) (*types.ImageIdentity, error) {
	log := logger.WithContext(dcontext.WithStage(ctx, "tag"), b.logger)

	tags := requestedTags
	if len(tags) == 0 {
		tags = []string{types.DefaultTag}
	}

	named, err := reference.ParseNormalizedNamed(imageName)
	if err != nil {
		return nil, &TagError{ImageID: id.ID, Tag: tags[0], Err: err}
	}
	if !reference.IsNameOnly(named) {
		return nil, &TagError{ImageID: id.ID, Tag: tags[0], Err: fmt.Errorf("image name %q must not include a tag or digest", imageName)}
	}

	for _, tag := range tags {
		if _, err := reference.WithTag(named, tag); err != nil {
			return nil, &TagError{ImageID: id.ID, Tag: tag, Err: err}
		}
	}

	applied := make([]string, 0, len(tags))
	for _, tag := range tags {
		if err := b.engine.Tag(ctx, id.ID, imageName, tag); err != nil {
			return nil, &TagError{ImageID: id.ID, Tag: tag, Err: err}
		}

		log.Debug(fmt.Sprintf("Tagged %s as %s:%s", id.ShortID(), imageName, tag))
		applied = append(applied, tag)
	}

	return &types.ImageIdentity{
		ID:   id.ID,
		Name: imageName,
		Tags: applied,
	}, nil
}

// Push pushes every tag of id in order. Each push finishes before the next
// starts and the first failure stops the rest.
func (b *DockerBuilder) Push(ctx context.Context, id *types.ImageIdentity) error {
	log := logger.WithContext(dcontext.WithStage(ctx, "push"), b.logger)

	creds := b.lookupCredentials(log, id.Name)

	for _, tag := range id.Tags {
		ref := id.Name + ":" + tag
		log.Info("Pushing image " + ref)

		if err := b.pushTag(ctx, log, id.Name, tag, creds); err != nil {
			return &PushError{Tag: tag, Err: err}
		}
	}

	return nil
}

func (b *DockerBuilder) pushTag(ctx context.Context, log logger.Logger, name, tag string, creds *engine.Credentials) error {
	stream, err := b.engine.Push(ctx, name, tag, creds)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		event, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if event.IsError() {
			return engineError(event.Error)
		}

		switch {
		case event.Digest != "":
			log.Info(fmt.Sprintf("Pushed %s:%s", name, tag), logger.WithField("digest", event.Digest))
		case event.Status != "":
			fields := []logger.Field{}
			if event.ID != "" {
				fields = append(fields, logger.WithField("id", event.ID))
			}
			log.Debug(event.Status, fields...)
		}
	}
}

func (b *DockerBuilder) lookupCredentials(log logger.Logger, imageName string) *engine.Credentials {
	if b.credentials == nil {
		return nil
	}

	host := registryHost(imageName)
	creds, err := b.credentials(host)
	if err != nil {
		log.Debug("No registry credentials found, pushing anonymously",
			logger.WithField("registry", host),
			logger.WithError(err))
		return nil
	}
	return creds
}

// Remove force-removes the image. Failures are logged and returned as a
// *RemovalError for the caller to report; they are never fatal.
func (b *DockerBuilder) Remove(ctx context.Context, id *types.ImageIdentity) error {
	log := logger.WithContext(dcontext.WithStage(ctx, "remove"), b.logger)
	log.Info("Removing image " + id.ID)

	if err := b.engine.Remove(ctx, id.ID, true); err != nil {
		removalErr := &RemovalError{ImageID: id.ID, Err: err}
		log.Warn(removalErr.Error())
		return removalErr
	}

	return nil
}

// IsFatal reports whether err should fail a workflow
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var removalErr *RemovalError
	return !errors.As(err, &removalErr)
}
