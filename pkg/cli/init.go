package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/poltergeist/dockerstage/pkg/config"
	"github.com/poltergeist/dockerstage/pkg/utils"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var imageName string
	var format string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new dockerstage job file",
		Long: `Initialize a new job file in the project root. The Dockerfile location is
detected and the image is named after the project directory unless --image
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(imageName, format, force)
		},
	}

	cmd.Flags().StringVarP(&imageName, "image", "i", "", "image name (default: project directory name)")
	cmd.Flags().StringVar(&format, "format", "yaml", "job file format (yaml, json)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func (c *CLI) runInit(imageName, format string, force bool) error {
	configPath := c.config.ConfigFile
	if configPath == "" {
		switch format {
		case "yaml":
			configPath = filepath.Join(c.config.ProjectRoot, "dockerstage.yaml")
		case "json":
			configPath = filepath.Join(c.config.ProjectRoot, "dockerstage.json")
		default:
			return fmt.Errorf("unsupported format: %s", format)
		}
	}

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists. Use --force to overwrite")
	}

	if imageName == "" {
		imageName = defaultImageName(c.config.ProjectRoot)
		c.printInfo(fmt.Sprintf("Using image name: %s", imageName))
	}

	m := config.NewManager()
	cfg := m.GetDefaultConfig(imageName)

	if dir := detectDockerDirectory(c.config.ProjectRoot); dir != "" {
		cfg.Directory = dir
		c.printInfo(fmt.Sprintf("Detected Dockerfile in %s", dir))
	} else {
		c.printWarning(fmt.Sprintf("No Dockerfile found, using %s", cfg.Directory))
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return err
	}
	if err := m.WriteConfig(configPath, cfg); err != nil {
		return err
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", configPath))
	c.printInfo("Edit the resources to select the files your Dockerfile copies")

	return nil
}

// detectDockerDirectory returns the first conventional directory under root
// that holds a Dockerfile, relative to root.
func detectDockerDirectory(root string) string {
	for _, dir := range []string{"src/main/docker", "docker", "."} {
		if utils.FileExists(filepath.Join(root, dir, "Dockerfile")) {
			return dir
		}
	}
	return ""
}

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)
	separatorRuns    = regexp.MustCompile(`[._-]{2,}`)
)

// defaultImageName derives a valid repository name from the project directory
func defaultImageName(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	name := invalidNameChars.ReplaceAllString(strings.ToLower(filepath.Base(abs)), "-")
	name = separatorRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "._-")
	if name == "" {
		return "app"
	}
	return name
}
