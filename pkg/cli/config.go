package cli

// Config holds all CLI settings. Flags, DOCKERSTAGE_* environment variables
// and the user settings file all land here before any command runs.
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	LogFile     string
	EngineHost  string
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "info",
	}
}
