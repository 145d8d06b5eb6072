package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by the build job and the proxy.
// Each command validates only the sections it uses.
type Config struct {
	Build     BuildConfig     `yaml:"build"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Router    RouterConfig    `yaml:"router"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BuildConfig describes the single deployment a build job executes.
type BuildConfig struct {
	ProjectID      string   `yaml:"project_id"`
	DeploymentID   string   `yaml:"deployment_id,omitempty"`
	RepoURL        string   `yaml:"repo_url"`
	WorkDir        string   `yaml:"work_dir,omitempty"`       // empty => ephemeral temp workspace
	CloneStrategy  string   `yaml:"clone_strategy,omitempty"` // gogit|command
	InstallCommand string   `yaml:"install_command,omitempty"`
	BuildCommand   string   `yaml:"build_command,omitempty"`
	OutputDirs     []string `yaml:"output_dirs,omitempty"` // tried in order
	DrainTimeout   string   `yaml:"drain_timeout,omitempty"`
	KeepWorkspace  bool     `yaml:"keep_workspace,omitempty"`
}

// StorageConfig selects and configures the artifact object store.
type StorageConfig struct {
	Driver          string `yaml:"driver"` // s3|fs
	Bucket          string `yaml:"bucket,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"` // S3-compatible endpoint override
	UsePathStyle    bool   `yaml:"use_path_style,omitempty"`
	Directory       string `yaml:"directory,omitempty"` // fs driver root
}

// TelemetryConfig configures where build log events are delivered.
type TelemetryConfig struct {
	Sink         string `yaml:"sink"` // nats|sqlite|none
	NATSURL      string `yaml:"nats_url,omitempty"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	Token        string `yaml:"token,omitempty"`
	Subject      string `yaml:"subject,omitempty"`
	Stream       string `yaml:"stream,omitempty"`
	CreateStream bool   `yaml:"create_stream,omitempty"`
	DBPath       string `yaml:"db_path,omitempty"`
	QueueSize    int    `yaml:"queue_size,omitempty"`
}

// RouterConfig configures the tenant routing proxy.
type RouterConfig struct {
	Port               int    `yaml:"port"`
	BasePath           string `yaml:"base_path"`
	RootDomain         string `yaml:"root_domain,omitempty"`
	ProjectsFile       string `yaml:"projects_file,omitempty"`
	CacheTTL           string `yaml:"cache_ttl,omitempty"`
	NegativeCacheTTL   string `yaml:"negative_cache_ttl,omitempty"`
	CachePurgeInterval string `yaml:"cache_purge_interval,omitempty"`
	UpstreamTimeout    string `yaml:"upstream_timeout,omitempty"`
	// ObjectsDir, when set, serves a filesystem object store under /_pagedeploy/objects/
	// so base_path can point at the proxy itself in local setups.
	ObjectsDir         string `yaml:"objects_dir,omitempty"`
}

// DatabaseConfig configures the relational project store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres
	DSN    string `yaml:"dsn"`
}

// MetricsConfig configures metric export for the one-shot build job.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
	Job            string `yaml:"job,omitempty"`
}

// Load reads configuration from .env files, an optional YAML file and the
// process environment, in increasing order of precedence, then applies defaults.
// An empty configPath skips the YAML file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if configPath != "" {
		if err := loadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func loadFile(configPath string, cfg *Config) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	// #nosec G304 - configPath is operator supplied
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
