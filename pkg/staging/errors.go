package staging

import (
	"errors"
	"fmt"
	"io/fs"
)

// StagingError reports an I/O failure while populating the staging root.
// Staging stops at the first failure and nothing already copied is undone.
type StagingError struct {
	Path string
	Op   string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// newStagingError names the path the filesystem complained about when there
// is one, falling back to fallback otherwise.
func newStagingError(op, fallback string, err error) *StagingError {
	path := fallback
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && pathErr.Path != "" {
		path = pathErr.Path
	}
	return &StagingError{Path: path, Op: op, Err: err}
}
