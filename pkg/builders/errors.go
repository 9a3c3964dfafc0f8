package builders

import (
	"errors"
	"fmt"
)

// Sentinel errors for job validation.
// These enable reliable error checking with errors.Is()
var (
	// ErrMissingDirectory indicates the job has no primary source directory
	ErrMissingDirectory = errors.New("missing option 'directory'")

	// ErrMissingImageName indicates the job has no image name
	ErrMissingImageName = errors.New("missing option 'imageName'")

	// ErrNoImageID indicates a build stream ended without reporting an image
	ErrNoImageID = errors.New("build finished without reporting an image id")
)

// BuildError reports a failed image build. No image identity exists.
type BuildError struct {
	Context string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build image from %s: %v", e.Context, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// TagError reports a tag the engine rejected
type TagError struct {
	ImageID string
	Tag     string
	Err     error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("failed to tag image %s as %s: %v", e.ImageID, e.Tag, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

// PushError reports the first tag that failed to push. Tags after it were
// not attempted.
type PushError struct {
	Tag string
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("failed to push %s: %v", e.Tag, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// RemovalError reports a failed image removal. It never fails a workflow.
type RemovalError struct {
	ImageID string
	Err     error
}

func (e *RemovalError) Error() string {
	return fmt.Sprintf("failed to remove image %s: %v", e.ImageID, e.Err)
}

func (e *RemovalError) Unwrap() error {
	return e.Err
}

// engineError turns an error event message into an error value
type engineError string

func (e engineError) Error() string {
	return string(e)
}
