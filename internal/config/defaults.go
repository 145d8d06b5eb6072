package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values shared by the loader, the example file written by Init, and tests.
const (
	DefaultInstallCommand   = "npm install"
	DefaultBuildCommand     = "npm run build"
	DefaultCloneStrategy    = CloneStrategyGoGit
	DefaultDrainTimeout     = 10 * time.Second
	DefaultLogSubject       = "container-logs"
	DefaultNATSURL          = "nats://127.0.0.1:4222"
	DefaultLogDB            = "pagedeploy-logs.db"
	DefaultQueueSize        = 1024
	DefaultPort             = 8000
	DefaultCacheTTL         = 30 * time.Second
	DefaultNegativeCacheTTL = 5 * time.Second
	DefaultPurgeInterval    = time.Minute
	DefaultUpstreamTimeout  = 30 * time.Second
	DefaultDatabaseDSN      = "pagedeploy.db"
	DefaultStorageDir       = "./objects"
	DefaultMetricsJob       = "pagedeploy_build"
)

// Clone strategies.
const (
	CloneStrategyGoGit   = "gogit"
	CloneStrategyCommand = "command"
)

// Storage drivers.
const (
	StorageS3 = "s3"
	StorageFS = "fs"
)

// Telemetry sinks.
const (
	SinkNATS   = "nats"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Database drivers.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// DefaultOutputDirs lists build output directories in preference order.
func DefaultOutputDirs() []string { return []string{"dist", "build"} }

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config)
	Domain() string
}

type buildDefaults struct{}

func (buildDefaults) Domain() string { return "build" }

func (buildDefaults) ApplyDefaults(cfg *Config) {
	b := &cfg.Build
	if b.DeploymentID == "" {
		b.DeploymentID = uuid.NewString()
	}
	if b.CloneStrategy == "" {
		b.CloneStrategy = DefaultCloneStrategy
	}
	if b.InstallCommand == "" {
		b.InstallCommand = DefaultInstallCommand
	}
	if b.BuildCommand == "" {
		b.BuildCommand = DefaultBuildCommand
	}
	if len(b.OutputDirs) == 0 {
		b.OutputDirs = DefaultOutputDirs()
	}
	if b.DrainTimeout == "" {
		b.DrainTimeout = DefaultDrainTimeout.String()
	}
}

type storageDefaults struct{}

func (storageDefaults) Domain() string { return "storage" }

func (storageDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageS3
	}
	if cfg.Storage.Driver == StorageFS && cfg.Storage.Directory == "" {
		cfg.Storage.Directory = DefaultStorageDir
	}
}

type telemetryDefaults struct{}

func (telemetryDefaults) Domain() string { return "telemetry" }

func (telemetryDefaults) ApplyDefaults(cfg *Config) {
	t := &cfg.Telemetry
	if t.Sink == "" {
		t.Sink = SinkNATS
	}
	if t.NATSURL == "" {
		t.NATSURL = DefaultNATSURL
	}
	if t.Subject == "" {
		t.Subject = DefaultLogSubject
	}
	if t.DBPath == "" {
		t.DBPath = DefaultLogDB
	}
	if t.QueueSize <= 0 {
		t.QueueSize = DefaultQueueSize
	}
}

type routerDefaults struct{}

func (routerDefaults) Domain() string { return "router" }

func (routerDefaults) ApplyDefaults(cfg *Config) {
	r := &cfg.Router
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.CacheTTL == "" {
		r.CacheTTL = DefaultCacheTTL.String()
	}
	if r.NegativeCacheTTL == "" {
		r.NegativeCacheTTL = DefaultNegativeCacheTTL.String()
	}
	if r.CachePurgeInterval == "" {
		r.CachePurgeInterval = DefaultPurgeInterval.String()
	}
	if r.UpstreamTimeout == "" {
		r.UpstreamTimeout = DefaultUpstreamTimeout.String()
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DatabaseSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DatabaseSQLite {
		cfg.Database.DSN = DefaultDatabaseDSN
	}
}

type metricsDefaults struct{}

func (metricsDefaults) Domain() string { return "metrics" }

func (metricsDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = DefaultMetricsJob
	}
}

var defaultAppliers = []DefaultApplier{
	buildDefaults{},
	storageDefaults{},
	telemetryDefaults{},
	routerDefaults{},
	metricsDefaults{},
}

func applyDefaults(cfg *Config) {
	for _, a := range defaultAppliers {
		a.ApplyDefaults(cfg)
	}
}

// Duration parses a duration string, falling back to def when empty or invalid.
// Validation reports invalid values before this is reached in normal operation.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
