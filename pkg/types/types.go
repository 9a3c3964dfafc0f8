// Package types provides core types and configurations for dockerstage
package types

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ConfigVersion is the only job file version understood by this release
const ConfigVersion = "1.0"

// DefaultTag is applied when a job requests no tags
const DefaultTag = "latest"

// DefaultEngineHost is the engine endpoint used when nothing else is configured
const DefaultEngineHost = "unix:///var/run/docker.sock"

// DefaultOutputDirectory is the build output root, relative to the project root
const DefaultOutputDirectory = "target"

// StagingDirName is the name of the staging directory under the output root
const StagingDirName = "docker"

// MergeOrder controls where the primary resource is placed in the rule list
type MergeOrder string

const (
	// MergeOrderPrimaryLast appends the primary resource after all declared
	// resources, so primary files overwrite resource files at the same path.
	MergeOrderPrimaryLast MergeOrder = "primary-last"
	// MergeOrderPrimaryFirst stages the primary resource before all declared
	// resources, so resource files overwrite primary files at the same path.
	MergeOrderPrimaryFirst MergeOrder = "primary-first"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// BuildStatus represents the outcome of the last workflow run
type BuildStatus string

const (
	BuildStatusIdle      BuildStatus = "idle"
	BuildStatusStaging   BuildStatus = "staging"
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// ResourceRule describes one set of files copied into the build context.
//
// Patterns are evaluated relative to Directory. An empty TargetPath means the
// files land at the staging root.
type ResourceRule struct {
	Directory  string   `json:"directory" yaml:"directory"`
	Includes   []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes   []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	TargetPath string   `json:"targetPath,omitempty" yaml:"targetPath,omitempty"`
}

// HasTargetPath reports whether the rule places its files under a sub-path
func (r ResourceRule) HasTargetPath() bool {
	return r.TargetPath != ""
}

// IsWholeDirectory reports whether the rule copies its source tree as-is
func (r ResourceRule) IsWholeDirectory() bool {
	return len(r.Includes) == 0 && len(r.Excludes) == 0 && r.HasTargetPath()
}

// BuildOptions are passed verbatim to the engine build call
type BuildOptions struct {
	ForceRemove bool `json:"forceRm" yaml:"forceRm"`
	NoCache     bool `json:"noCache" yaml:"noCache"`
	Pull        bool `json:"pull" yaml:"pull"`
}

// ImageIdentity is the image produced by a build
type ImageIdentity struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// Refs returns "name:tag" for every assigned tag, in tag order
func (i ImageIdentity) Refs() []string {
	refs := make([]string, 0, len(i.Tags))
	for _, tag := range i.Tags {
		refs = append(refs, fmt.Sprintf("%s:%s", i.Name, tag))
	}
	return refs
}

// ShortID returns the first 12 hex characters of the image ID.
//
// Engine IDs are usually "sha256:<hex>" digests; anything else is returned
// truncated but otherwise untouched.
func (i ImageIdentity) ShortID() string {
	id := i.ID
	if d, err := digest.Parse(i.ID); err == nil {
		id = d.Encoded()
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// EngineConfig holds the container engine endpoint
type EngineConfig struct {
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	TLSVerify  bool   `json:"tlsVerify,omitempty" yaml:"tlsVerify,omitempty"`
	CertPath   string `json:"certPath,omitempty" yaml:"certPath,omitempty"`
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

// NotificationConfig represents desktop notification settings
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// WatchConfig controls watch mode
type WatchConfig struct {
	SettlingDelay int      `json:"settlingDelay,omitempty" yaml:"settlingDelay,omitempty"`
	Exclusions    []string `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`
}

// JobConfig represents one dockerstage invocation
type JobConfig struct {
	Version         string              `json:"version" yaml:"version"`
	Directory       string              `json:"directory" yaml:"directory"`
	ImageName       string              `json:"imageName" yaml:"imageName"`
	ImageTags       []string            `json:"imageTags,omitempty" yaml:"imageTags,omitempty"`
	Resources       []ResourceRule      `json:"resources,omitempty" yaml:"resources,omitempty"`
	OutputDirectory string              `json:"outputDirectory,omitempty" yaml:"outputDirectory,omitempty"`
	MergeOrder      MergeOrder          `json:"mergeOrder,omitempty" yaml:"mergeOrder,omitempty"`
	Build           BuildOptions        `json:"build" yaml:"build"`
	Push            bool                `json:"push,omitempty" yaml:"push,omitempty"`
	Remove          bool                `json:"remove,omitempty" yaml:"remove,omitempty"`
	Skip            bool                `json:"skip,omitempty" yaml:"skip,omitempty"`
	Engine          EngineConfig        `json:"engine,omitempty" yaml:"engine,omitempty"`
	Notifications   *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Watch           *WatchConfig        `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// StagingDirectory returns the staging root for the job
func (c *JobConfig) StagingDirectory() string {
	out := c.OutputDirectory
	if strings.TrimSpace(out) == "" {
		out = DefaultOutputDirectory
	}
	return filepath.Join(out, StagingDirName)
}

// PrimaryResource returns the implicit rule for the primary source directory
func (c *JobConfig) PrimaryResource() ResourceRule {
	return ResourceRule{Directory: c.Directory}
}

// NotificationsEnabled reports whether desktop notifications are on
func (c *JobConfig) NotificationsEnabled() bool {
	return c.Notifications != nil && c.Notifications.Enabled != nil && *c.Notifications.Enabled
}
