package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poltergeist/dockerstage/internal/state"
	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/types"
	"github.com/poltergeist/dockerstage/pkg/utils"
)

// DefaultSettlingDelay applies when the job has no watch settings
const DefaultSettlingDelay = time.Second

// BuildFunc runs one workflow for the job
type BuildFunc func(ctx context.Context) error

// Runner builds once and then again after every settled batch of changes.
// Changes arriving during a build queue exactly one follow-up build.
type Runner struct {
	cfg    *types.JobConfig
	logger logger.Logger
	build  BuildFunc
}

// NewRunner creates a runner for cfg
func NewRunner(cfg *types.JobConfig, log logger.Logger, build BuildFunc) *Runner {
	return &Runner{cfg: cfg, logger: log, build: build}
}

// Roots returns the directories whose contents feed the build context
func Roots(cfg *types.JobConfig) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, rule := range append(append([]types.ResourceRule{}, cfg.Resources...), cfg.PrimaryResource()) {
		if rule.Directory == "" || seen[rule.Directory] {
			continue
		}
		seen[rule.Directory] = true
		roots = append(roots, rule.Directory)
	}
	return roots
}

// Run watches until ctx is canceled
func (r *Runner) Run(ctx context.Context) error {
	settling := DefaultSettlingDelay
	exclusions := utils.GetDefaultExclusions()
	if r.cfg.Watch != nil {
		if r.cfg.Watch.SettlingDelay > 0 {
			settling = time.Duration(r.cfg.Watch.SettlingDelay) * time.Millisecond
		}
		exclusions = append(exclusions, r.cfg.Watch.Exclusions...)
	}

	w, err := NewWatcher(r.logger, exclusions, settling)
	if err != nil {
		return err
	}
	defer w.Close()

	staging := r.cfg.StagingDirectory()
	w.Ignore(staging, state.NewManager(staging, r.logger).Dir())

	watched := 0
	for _, root := range Roots(r.cfg) {
		if !utils.DirectoryExists(root) {
			r.logger.Warn("Not watching missing directory " + root)
			continue
		}
		if err := w.Add(root); err != nil {
			return err
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no source directories to watch")
	}

	changes := make(chan []string)
	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	g, gctx := NewSafeGroup(ctx, r.logger)

	g.Go(func() error {
		return w.Run(gctx, changes)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case batch := <-changes:
				r.logger.Info(fmt.Sprintf("Detected %d changed path(s)", len(batch)),
					logger.WithField("first", batch[0]))
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
				r.runBuild(gctx)
			}
		}
	})

	r.logger.Info(fmt.Sprintf("Watching %d director(ies) for changes", watched))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) runBuild(ctx context.Context) {
	err := r.build(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case errors.Is(err, state.ErrStagingLocked):
		r.logger.Warn("Another build holds the staging lock, skipping this change")
	default:
		r.logger.Error("Build failed, waiting for further changes", logger.WithError(err))
	}
}
