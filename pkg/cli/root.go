// Package cli provides the command-line interface for dockerstage
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/dockerstage/pkg/config"
	"github.com/poltergeist/dockerstage/pkg/engine"
	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/types"
)

// EnvPrefix prefixes every environment variable read by the CLI
const EnvPrefix = "DOCKERSTAGE"

// CLI encapsulates the command-line interface
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	logger   logger.Logger
	console  *logger.ConsoleLogger
	factory  engine.Factory
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		viper:    viper.New(),
		console:  logger.NewConsoleLogger(),
		factory:  engine.DockerFactory{},
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers and engine
// factory (for testing)
func NewCLIWithOutput(cfg *Config, factory engine.Factory, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.factory = factory
	c.output = output
	c.errorOut = errorOut
	c.console = logger.NewConsoleLoggerWithOutput(output, errorOut)
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI for the process arguments
func Execute(ctx context.Context, version string) error {
	cfg := NewConfig()
	cfg.Version = version
	return NewCLI(cfg).ExecuteContext(ctx, os.Args[1:])
}

// ExecuteContext runs the CLI with the given arguments
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "dockerstage",
		Short: "Stage a container build context and build, tag and push the image",
		Long: `🐳 dockerstage - Build-context staging and image lifecycle

dockerstage copies the files selected by a job's resource rules into a
staging directory, builds an image from it, tags the image and optionally
pushes every tag and removes the local image.`,

		SilenceUsage:      true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("🐳 dockerstage v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newStageCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVarP(&c.config.ConfigFile, "config", "c", "", "job file (default: dockerstage.yaml in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", ".", "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.LogFile, "log-file", "", "also append logs to this file")
	flags.StringVarP(&c.config.EngineHost, "host", "H", "", "engine endpoint (default: DOCKER_HOST or the local socket)")

	c.viper.BindPFlag("verbosity", flags.Lookup("verbosity"))
	c.viper.BindPFlag("log-file", flags.Lookup("log-file"))
	c.viper.BindPFlag("engine-host", flags.Lookup("host"))
}

// initializeConfig layers the settings sources: flags win over DOCKERSTAGE_*
// environment variables, which win over the user settings file. A .env file
// in the project root seeds the environment without overriding it.
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(filepath.Join(c.config.ProjectRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	c.viper.SetEnvPrefix(EnvPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.viper.AutomaticEnv()

	c.viper.SetConfigName("config")
	c.viper.SetConfigType("yaml")
	c.viper.AddConfigPath(filepath.Join(xdg.ConfigHome, "dockerstage"))

	settingsErr := c.viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if settingsErr != nil && !errors.As(settingsErr, &notFound) {
		return fmt.Errorf("failed to read settings: %w", settingsErr)
	}

	c.config.Verbosity = c.viper.GetString("verbosity")
	c.config.LogFile = c.viper.GetString("log-file")
	c.config.EngineHost = c.viper.GetString("engine-host")

	if c.output == os.Stdout {
		c.logger = logger.CreateLogger(c.config.LogFile, c.config.Verbosity)
	} else {
		c.logger = logger.CreateLoggerWithOutput(c.config.LogFile, c.config.Verbosity, c.output)
	}

	if settingsErr == nil {
		c.logger.Debug("Using settings file",
			logger.WithField("file", c.viper.ConfigFileUsed()))
	}

	return nil
}

// loadJob finds, loads and validates the job file, then applies the
// command-line engine override.
func (c *CLI) loadJob() (*types.JobConfig, string, error) {
	path := c.config.ConfigFile
	if path == "" {
		found, err := config.FindConfig(c.config.ProjectRoot)
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}

	if c.config.EngineHost != "" {
		cfg.Engine.Host = c.config.EngineHost
	}

	c.logger.Debug("Using job file", logger.WithField("file", path))
	return cfg, path, nil
}

// Helper functions

func (c *CLI) printSuccess(message string) {
	c.console.Success(message)
}

func (c *CLI) printError(message string) {
	c.console.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.console.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.console.Warn(message)
}
