package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/dockerstage/internal/state"
	"github.com/poltergeist/dockerstage/pkg/builders"
	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/notifier"
	"github.com/poltergeist/dockerstage/pkg/types"
	"github.com/poltergeist/dockerstage/pkg/utils"
)

type buildFlags struct {
	push        bool
	remove      bool
	noCache     bool
	pull        bool
	forceRemove bool
	skip        bool
	tags        []string
}

func (c *CLI) newBuildCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Stage the build context and build the image",
		Long: `Stage the build context, build the image and apply its tags. With --push
every tag is pushed in order; with --remove the local image is deleted last.

Flags override the matching job file settings only when given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.loadJob()
			if err != nil {
				return err
			}
			applyBuildFlags(cmd, cfg, flags)
			return c.runBuild(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVar(&flags.push, "push", false, "push every tag after building")
	cmd.Flags().BoolVar(&flags.remove, "remove", false, "remove the local image after tagging and pushing")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "do not use the build cache")
	cmd.Flags().BoolVar(&flags.pull, "pull", false, "always pull newer base images")
	cmd.Flags().BoolVar(&flags.forceRemove, "force-rm", false, "always remove intermediate containers")
	cmd.Flags().BoolVar(&flags.skip, "skip", false, "skip the whole workflow")
	cmd.Flags().StringSliceVarP(&flags.tags, "tag", "t", nil, "image tag (repeatable, replaces imageTags)")

	return cmd
}

func applyBuildFlags(cmd *cobra.Command, cfg *types.JobConfig, flags buildFlags) {
	changed := cmd.Flags().Changed
	if changed("push") {
		cfg.Push = flags.push
	}
	if changed("remove") {
		cfg.Remove = flags.remove
	}
	if changed("no-cache") {
		cfg.Build.NoCache = flags.noCache
	}
	if changed("pull") {
		cfg.Build.Pull = flags.pull
	}
	if changed("force-rm") {
		cfg.Build.ForceRemove = flags.forceRemove
	}
	if changed("skip") {
		cfg.Skip = flags.skip
	}
	if changed("tag") {
		cfg.ImageTags = flags.tags
	}
}

func (c *CLI) runOptions(cfg *types.JobConfig) []builders.RunOption {
	var opts []builders.RunOption
	if cfg.NotificationsEnabled() {
		opts = append(opts, builders.WithNotifier(notifier.New(notifier.ConfigFromJob(cfg), c.logger)))
	}
	return opts
}

func (c *CLI) runBuild(ctx context.Context, cfg *types.JobConfig) error {
	result, err := builders.Run(ctx, cfg, c.factory, c.logger, c.runOptions(cfg)...)
	if err != nil {
		c.printError(fmt.Sprintf("Build failed for %s: %v", cfg.ImageName, err))
		return err
	}

	if result.Skipped {
		return nil
	}

	c.printSuccess(fmt.Sprintf("Built %s (%s) in %.2fs",
		strings.Join(result.Identity.Refs(), ", "), result.Identity.ShortID(), result.Duration.Seconds()))
	if result.Pushed {
		c.printInfo(fmt.Sprintf("Pushed %d tag(s)", len(result.Identity.Tags)))
	}
	if result.RemovalErr != nil {
		c.printWarning(fmt.Sprintf("Image was built but could not be removed: %v", result.RemovalErr))
	}
	return nil
}

func (c *CLI) newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage",
		Short: "Stage the build context without building",
		Long:  `Copy the files selected by the job's resource rules into the staging directory. The engine is never contacted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.loadJob()
			if err != nil {
				return err
			}

			summary, err := builders.Stage(cmd.Context(), cfg, c.logger)
			if err != nil {
				c.printError(fmt.Sprintf("Staging failed: %v", err))
				return err
			}

			c.printSuccess(fmt.Sprintf("Staged %d file(s) from %d rule(s) into %s", summary.Files, summary.Rules, summary.Root))
			return nil
		},
	}
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the job file",
		Long:  `Check that the job file parses, that required options are set and that image names, tags and patterns are well formed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) runValidate() error {
	cfg, path, err := c.loadJob()
	if err != nil {
		c.printError(fmt.Sprintf("Configuration is invalid: %v", err))
		return err
	}

	// Missing directories are only fatal at staging time; a build step may
	// not have produced them yet.
	var warnings []string
	if !utils.DirectoryExists(cfg.Directory) {
		warnings = append(warnings, fmt.Sprintf("directory %s does not exist yet", cfg.Directory))
	}
	for i, rule := range cfg.Resources {
		if !utils.DirectoryExists(rule.Directory) {
			warnings = append(warnings, fmt.Sprintf("resource %d: directory %s does not exist yet", i, rule.Directory))
		}
	}

	if len(warnings) > 0 {
		c.printWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Fprintf(c.output, "  ⚠ %s\n", warn)
		}
	}

	c.printSuccess(fmt.Sprintf("Configuration %s is valid", path))
	return nil
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded build",
		Long:  `Display the outcome of the most recent build of this job and whether one is running now.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) runStatus() error {
	cfg, _, err := c.loadJob()
	if err != nil {
		return err
	}

	sm := state.NewManager(cfg.StagingDirectory(), c.logger)
	st, err := sm.ReadState()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	locked, lock, err := sm.IsLocked()
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}

	status := string(st.BuildStatus)
	if locked {
		status = fmt.Sprintf("%s (pid %d)", types.BuildStatusBuilding, lock.ProcessID)
	}

	statusColor := color.WhiteString(status)
	switch {
	case locked:
		statusColor = color.YellowString(status)
	case st.BuildStatus == types.BuildStatusSucceeded:
		statusColor = color.GreenString(status)
	case st.BuildStatus == types.BuildStatusFailed:
		statusColor = color.RedString(status)
	}

	lastBuild := "-"
	if !st.LastBuildTime.IsZero() {
		lastBuild = st.LastBuildTime.Local().Format("2006-01-02 15:04:05")
	}
	image := "-"
	if st.ImageID != "" {
		image = types.ImageIdentity{ID: st.ImageID}.ShortID()
	}
	tags := "-"
	if len(st.Tags) > 0 {
		tags = strings.Join(st.Tags, ",")
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tSTATUS\tLAST BUILD\tDURATION\tID\tTAGS\tBUILDS\tFAILURES")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
		cfg.ImageName,
		statusColor,
		lastBuild,
		st.BuildDuration.Round(time.Millisecond),
		image,
		tags,
		st.BuildCount,
		st.FailureCount,
	)
	w.Flush()

	if st.LastError != "" {
		c.printError("Last error: " + st.LastError)
	}
	if st.RemovalError != "" {
		c.printWarning("Last removal error: " + st.RemovalError)
	}
	return nil
}

func (c *CLI) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the staging directory and build state",
		Long:  `Delete the staging directory and the recorded build state. Refuses while a build holds the staging lock.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean()
		},
	}
}

func (c *CLI) runClean() error {
	cfg, _, err := c.loadJob()
	if err != nil {
		return err
	}

	staging := cfg.StagingDirectory()
	sm := state.NewManager(staging, c.logger)

	locked, lock, err := sm.IsLocked()
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("%w (pid %d)", state.ErrStagingLocked, lock.ProcessID)
	}

	var size int64
	if utils.DirectoryExists(staging) {
		if size, err = utils.GetDirectorySize(staging); err != nil {
			c.logger.Debug("Failed to measure staging directory", logger.WithError(err))
		}
		if err := utils.RemoveAll(staging); err != nil {
			return fmt.Errorf("failed to remove staging directory: %w", err)
		}
	}

	if err := sm.Clean(); err != nil {
		return fmt.Errorf("failed to remove state directory: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Cleaned %s (%s freed)", staging, utils.FormatBytes(size)))
	return nil
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dockerstage",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "🐳 dockerstage v%s\n", c.config.Version)
		},
	}
}
