package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poltergeist/dockerstage/internal/watch"
	"github.com/poltergeist/dockerstage/pkg/builders"
	"github.com/poltergeist/dockerstage/pkg/config"
	"github.com/poltergeist/dockerstage/pkg/types"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the image whenever its sources change",
		Long: `Build once, then watch the primary directory and every resource directory
and rebuild after each settled batch of changes. Editing the job file
restarts watching with the new settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context())
		},
	}
}

func (c *CLI) runWatch(ctx context.Context) error {
	cfg, configPath, err := c.loadJob()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	updates := make(chan *types.JobConfig, 1)
	reload := config.NewReloadManager(configPath, c.logger)
	reload.AddCallback(func(next *types.JobConfig, err error) {
		if err != nil {
			c.printWarning(fmt.Sprintf("Keeping previous configuration: %v", err))
			return
		}
		if c.config.EngineHost != "" {
			next.Engine.Host = c.config.EngineHost
		}
		// Only the newest configuration matters
		select {
		case <-updates:
		default:
		}
		updates <- next
	})

	if err := reload.StartWatching(ctx); err != nil {
		c.printWarning(fmt.Sprintf("Job file changes will not be picked up: %v", err))
	}
	defer reload.StopWatching()

	c.printInfo(fmt.Sprintf("Starting dockerstage v%s", c.config.Version))

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(cfg *types.JobConfig) {
			done <- watch.NewRunner(cfg, c.logger, c.buildFunc(cfg)).Run(runCtx)
		}(cfg)

		c.printInfo(fmt.Sprintf("Watching sources of %s", cfg.ImageName))

		select {
		case <-ctx.Done():
			cancel()
			<-done
			c.printSuccess("Stopped watching")
			return nil

		case next := <-updates:
			cancel()
			<-done
			cfg = next
			c.printInfo("Job file changed, restarting watch")

		case err := <-done:
			cancel()
			return err
		}
	}
}

func (c *CLI) buildFunc(cfg *types.JobConfig) watch.BuildFunc {
	return func(ctx context.Context) error {
		_, err := builders.Run(ctx, cfg, c.factory, c.logger, c.runOptions(cfg)...)
		return err
	}
}
