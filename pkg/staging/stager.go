package staging

import (
	"context"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/types"
	"github.com/poltergeist/dockerstage/pkg/utils"
)

// Summary describes what a Stage call copied
type Summary struct {
	Root   string
	Rules  int
	Files  int
	Copied []string
}

// Stager copies resource rules into a staging root
type Stager struct {
	logger logger.Logger
	order  types.MergeOrder
}

// NewStager creates a stager. An empty order means types.MergeOrderPrimaryLast.
func NewStager(log logger.Logger, order types.MergeOrder) *Stager {
	if order == "" {
		order = types.MergeOrderPrimaryLast
	}
	return &Stager{
		logger: log,
		order:  order,
	}
}

// MergeRules returns resources with the primary rule placed according to order
func MergeRules(resources []types.ResourceRule, primary types.ResourceRule, order types.MergeOrder) []types.ResourceRule {
	rules := make([]types.ResourceRule, 0, len(resources)+1)
	if order == types.MergeOrderPrimaryFirst {
		rules = append(rules, primary)
		return append(rules, resources...)
	}
	rules = append(rules, resources...)
	return append(rules, primary)
}

// StageJob stages the job's resources plus its primary directory into the
// job's staging directory.
func (s *Stager) StageJob(ctx context.Context, cfg *types.JobConfig) (*Summary, error) {
	rules := MergeRules(cfg.Resources, cfg.PrimaryResource(), s.order)
	return s.Stage(ctx, rules, cfg.StagingDirectory())
}

// Stage applies rules in order into stagingRoot. The list is used as given;
// callers wanting the primary rule merged in use MergeRules or StageJob.
func (s *Stager) Stage(ctx context.Context, rules []types.ResourceRule, stagingRoot string) (*Summary, error) {
	if err := utils.EnsureDirectory(stagingRoot); err != nil {
		return nil, newStagingError("mkdir", stagingRoot, err)
	}

	summary := &Summary{Root: stagingRoot}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		copied, err := s.stageRule(ctx, rule, stagingRoot)
		if err != nil {
			return summary, err
		}
		if copied == nil {
			continue
		}

		summary.Rules++
		summary.Files += len(copied)
		summary.Copied = append(summary.Copied, copied...)
	}

	s.logger.Debug("Staging complete",
		logger.WithField("root", stagingRoot),
		logger.WithField("rules", summary.Rules),
		logger.WithField("files", summary.Files))

	return summary, nil
}

// stageRule copies one rule and returns the slash-separated staged paths
// relative to stagingRoot. A nil result means the rule matched nothing.
func (s *Stager) stageRule(ctx context.Context, rule types.ResourceRule, stagingRoot string) ([]string, error) {
	matches, err := utils.MatchFiles(rule.Directory, rule.Includes, rule.Excludes)
	if err != nil {
		return nil, newStagingError("match", rule.Directory, err)
	}

	if len(matches) == 0 {
		s.logger.Debug("No files matched, skipping resource",
			logger.WithField("directory", rule.Directory))
		return nil, nil
	}

	target := stagingRoot
	if rule.HasTargetPath() {
		target, err = securejoin.SecureJoin(stagingRoot, rule.TargetPath)
		if err != nil {
			return nil, newStagingError("resolve", rule.TargetPath, err)
		}
	}

	if rule.IsWholeDirectory() {
		s.logger.Debug("Copying directory",
			logger.WithField("from", rule.Directory),
			logger.WithField("to", target))

		if err := utils.CopyDirectory(rule.Directory, target); err != nil {
			return nil, newStagingError("copy", rule.Directory, err)
		}
		return stagedPaths(stagingRoot, target, matches), nil
	}

	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src := filepath.Join(rule.Directory, filepath.FromSlash(rel))
		dst := filepath.Join(target, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(dst), utils.DefaultDirMode); err != nil {
			return nil, newStagingError("mkdir", filepath.Dir(dst), err)
		}
		if err := utils.CopyFile(src, dst); err != nil {
			return nil, newStagingError("copy", src, err)
		}
	}

	s.logger.Debug("Copied resource files",
		logger.WithField("from", rule.Directory),
		logger.WithField("to", target),
		logger.WithField("files", len(matches)))

	return stagedPaths(stagingRoot, target, matches), nil
}

func stagedPaths(stagingRoot, target string, matches []string) []string {
	prefix, err := filepath.Rel(stagingRoot, target)
	if err != nil || prefix == "." {
		return matches
	}
	prefix = filepath.ToSlash(prefix)

	paths := make([]string, 0, len(matches))
	for _, rel := range matches {
		paths = append(paths, prefix+"/"+rel)
	}
	return paths
}
