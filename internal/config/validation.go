package config

import (
	"net/url"
	"slices"
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/artifact"
	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
)

// ValidateBuild checks the sections a build job depends on.
func ValidateBuild(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.required("build.project_id", cfg.Build.ProjectID)
	if v.err == nil && artifact.ValidateProjectID(cfg.Build.ProjectID) != nil {
		v.fail("build.project_id", "must be a single path segment")
	}
	v.required("build.repo_url", cfg.Build.RepoURL)
	v.oneOf("build.clone_strategy", cfg.Build.CloneStrategy, CloneStrategyGoGit, CloneStrategyCommand)
	v.duration("build.drain_timeout", cfg.Build.DrainTimeout)
	v.validateStorage()
	v.validateTelemetry()
	return v.err
}

// ValidateRouter checks the sections the routing proxy depends on.
func ValidateRouter(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.required("router.base_path", cfg.Router.BasePath)
	if v.err == nil {
		if u, err := url.Parse(cfg.Router.BasePath); err != nil || u.Scheme == "" || u.Host == "" {
			v.fail("router.base_path", "must be an absolute http(s) URL")
		}
	}
	if v.err == nil && (cfg.Router.Port <= 0 || cfg.Router.Port > 65535) {
		v.fail("router.port", "must be between 1 and 65535")
	}
	v.duration("router.cache_ttl", cfg.Router.CacheTTL)
	v.duration("router.negative_cache_ttl", cfg.Router.NegativeCacheTTL)
	v.duration("router.cache_purge_interval", cfg.Router.CachePurgeInterval)
	v.duration("router.upstream_timeout", cfg.Router.UpstreamTimeout)
	if cfg.Router.ProjectsFile == "" {
		v.validateDatabase()
	}
	return v.err
}

// ValidateDatabase checks the project store section on its own (used by the project commands).
func ValidateDatabase(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.validateDatabase()
	return v.err
}

// validator records the first failure; later checks become no-ops.
type validator struct {
	cfg *Config
	err error
}

func (v *validator) fail(field, reason string) {
	if v.err != nil {
		return
	}
	v.err = derrors.ConfigError("invalid configuration").
		WithContext("field", field).
		WithContext("reason", reason).
		Build()
}

func (v *validator) required(field, value string) {
	if value == "" {
		v.fail(field, "required")
	}
}

func (v *validator) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		v.fail(field, "unsupported value "+value)
	}
}

func (v *validator) duration(field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.fail(field, "invalid duration "+value)
		return
	}
	if d < 0 {
		v.fail(field, "must not be negative")
	}
}

func (v *validator) validateStorage() {
	s := v.cfg.Storage
	v.oneOf("storage.driver", s.Driver, StorageS3, StorageFS)
	switch s.Driver {
	case StorageS3:
		v.required("storage.bucket", s.Bucket)
		v.required("storage.region", s.Region)
		if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
			v.fail("storage.access_key_id", "access key id and secret must be set together")
		}
	case StorageFS:
		v.required("storage.directory", s.Directory)
	}
}

func (v *validator) validateTelemetry() {
	t := v.cfg.Telemetry
	v.oneOf("telemetry.sink", t.Sink, SinkNATS, SinkSQLite, SinkNone)
	switch t.Sink {
	case SinkNATS:
		v.required("telemetry.nats_url", t.NATSURL)
		v.required("telemetry.subject", t.Subject)
	case SinkSQLite:
		v.required("telemetry.db_path", t.DBPath)
	}
}

func (v *validator) validateDatabase() {
	d := v.cfg.Database
	v.oneOf("database.driver", d.Driver, DatabaseSQLite, DatabasePostgres)
	v.required("database.dsn", d.DSN)
}
