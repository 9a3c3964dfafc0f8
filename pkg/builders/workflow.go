package builders

import (
	"context"
	"fmt"
	"time"

	"github.com/poltergeist/dockerstage/internal/state"
	dcontext "github.com/poltergeist/dockerstage/pkg/context"
	"github.com/poltergeist/dockerstage/pkg/engine"
	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/staging"
	"github.com/poltergeist/dockerstage/pkg/types"
)

// Notifier is told about finished workflows
type Notifier interface {
	NotifyBuildSuccess(image types.ImageIdentity, duration time.Duration)
	NotifyBuildFailure(imageName string, err error)
}

// Result describes a finished workflow
type Result struct {
	BuildID  string
	Skipped  bool
	Staged   *staging.Summary
	Identity *types.ImageIdentity
	Pushed   bool
	Removed  bool
	// RemovalErr is set when removal was requested and failed. The workflow
	// still succeeded.
	RemovalErr error
	Duration   time.Duration
}

type runOptions struct {
	notifier    Notifier
	credentials CredentialLookup
}

// RunOption configures Run
type RunOption func(*runOptions)

// WithNotifier reports the outcome to n
func WithNotifier(n Notifier) RunOption {
	return func(o *runOptions) {
		o.notifier = n
	}
}

// WithRegistryCredentials overrides how push credentials are found
func WithRegistryCredentials(lookup CredentialLookup) RunOption {
	return func(o *runOptions) {
		o.credentials = lookup
	}
}

// Validate checks the options every workflow needs
func Validate(cfg *types.JobConfig) error {
	if cfg.Directory == "" {
		return ErrMissingDirectory
	}
	if cfg.ImageName == "" {
		return ErrMissingImageName
	}
	return nil
}

// Stage validates cfg and stages its build context under the staging lock,
// without contacting the engine.
func Stage(ctx context.Context, cfg *types.JobConfig, log logger.Logger) (*staging.Summary, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	ctx = dcontext.WithStage(dcontext.EnrichContext(dcontext.WithImage(ctx, cfg.ImageName)), "stage")
	log = logger.WithContext(ctx, log.WithTarget(cfg.ImageName))

	sm := state.NewManager(cfg.StagingDirectory(), log)
	if err := lockStaging(ctx, sm, dcontext.GetBuildID(ctx)); err != nil {
		return nil, err
	}
	defer releaseLock(sm, log)

	return staging.NewStager(log, cfg.MergeOrder).StageJob(ctx, cfg)
}

// Run executes the whole workflow: stage, build, tag, and optionally push and
// remove. The engine is opened only after staging succeeds and is closed on
// every path. A removal failure is reported in the result, never as an error.
func Run(ctx context.Context, cfg *types.JobConfig, factory engine.Factory, log logger.Logger, opts ...RunOption) (*Result, error) {
	o := runOptions{credentials: DockerConfigCredentials}
	for _, opt := range opts {
		opt(&o)
	}

	log = log.WithTarget(cfg.ImageName)

	if cfg.Skip {
		log.Info("Skipping docker build")
		return &Result{Skipped: true}, nil
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	ctx = dcontext.EnrichContext(dcontext.WithImage(ctx, cfg.ImageName))
	log = logger.WithContext(ctx, log)

	result := &Result{BuildID: dcontext.GetBuildID(ctx)}
	start := time.Now()

	sm := state.NewManager(cfg.StagingDirectory(), log)
	if err := lockStaging(ctx, sm, result.BuildID); err != nil {
		return nil, err
	}
	defer releaseLock(sm, log)

	if err := sm.RecordStart(result.BuildID, cfg.ImageName, types.BuildStatusStaging); err != nil {
		log.Debug("Failed to record build start", logger.WithError(err))
	}

	err := runSteps(ctx, cfg, factory, log, o, sm, result)
	result.Duration = time.Since(start)

	if err != nil {
		if recErr := sm.RecordFailure(err, result.Duration); recErr != nil {
			log.Debug("Failed to record build failure", logger.WithError(recErr))
		}
		if o.notifier != nil {
			o.notifier.NotifyBuildFailure(cfg.ImageName, err)
		}
		return result, err
	}

	if recErr := sm.RecordSuccess(*result.Identity, result.Pushed, result.Removed, result.Duration, result.RemovalErr); recErr != nil {
		log.Debug("Failed to record build result", logger.WithError(recErr))
	}
	if o.notifier != nil {
		o.notifier.NotifyBuildSuccess(*result.Identity, result.Duration)
	}

	log.Success(fmt.Sprintf("Built %s in %s", result.Identity.ShortID(), result.Duration.Round(time.Millisecond)),
		logger.WithField("tags", result.Identity.Tags))

	return result, nil
}

func runSteps(ctx context.Context, cfg *types.JobConfig, factory engine.Factory, log logger.Logger, o runOptions, sm *state.Manager, result *Result) error {
	summary, err := staging.NewStager(log, cfg.MergeOrder).StageJob(dcontext.WithStage(ctx, "stage"), cfg)
	if err != nil {
		return err
	}
	result.Staged = summary
	log.Debug(fmt.Sprintf("Staged %d files from %d resources", summary.Files, summary.Rules),
		logger.WithField("root", summary.Root))

	eng, err := factory.Open(ctx, cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Debug("Failed to close engine connection", logger.WithError(err))
		}
	}()

	builder := NewDockerBuilder(eng, log, WithCredentials(o.credentials))

	if err := sm.RecordStart(result.BuildID, cfg.ImageName, types.BuildStatusBuilding); err != nil {
		log.Debug("Failed to record build start", logger.WithError(err))
	}

	log.Info("Building image " + cfg.ImageName)
	built, err := builder.Build(ctx, summary.Root, cfg.Build)
	if err != nil {
		return err
	}

	identity, err := builder.ApplyTags(ctx, built, cfg.ImageTags, cfg.ImageName)
	if err != nil {
		return err
	}
	result.Identity = identity

	if cfg.Push {
		if err := builder.Push(ctx, identity); err != nil {
			return err
		}
		result.Pushed = true
	}

	if cfg.Remove {
		if err := builder.Remove(ctx, identity); err != nil {
			result.RemovalErr = err
		} else {
			result.Removed = true
		}
	}

	return nil
}

// lockStaging takes the staging lock and keeps its heartbeat fresh until the
// lock is released.
func lockStaging(ctx context.Context, sm *state.Manager, buildID string) error {
	if err := sm.AcquireLock(buildID); err != nil {
		return err
	}
	sm.StartHeartbeat(ctx)
	return nil
}

func releaseLock(sm *state.Manager, log logger.Logger) {
	if err := sm.ReleaseLock(); err != nil {
		log.Warn("Failed to release staging lock", logger.WithError(err))
	}
}
