package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
)

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("PROJECT_ID", "p1")
	t.Setenv("DEPLOYMENT_ID", "d1")
	t.Setenv("GIT_REPO_URL", "https://example.com/repo.git")
	t.Setenv("AWS_BUCKET_NAME", "bucket")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "p1", cfg.Build.ProjectID)
	assert.Equal(t, "d1", cfg.Build.DeploymentID)
	assert.Equal(t, "https://example.com/repo.git", cfg.Build.RepoURL)
	assert.Equal(t, []string{"dist", "build"}, cfg.Build.OutputDirs)
	assert.Equal(t, DefaultInstallCommand, cfg.Build.InstallCommand)
	assert.Equal(t, DefaultBuildCommand, cfg.Build.BuildCommand)
	assert.Equal(t, StorageS3, cfg.Storage.Driver)
	assert.Equal(t, "nats://broker:4222", cfg.Telemetry.NATSURL)
	assert.Equal(t, DefaultLogSubject, cfg.Telemetry.Subject)
	assert.Equal(t, DefaultPort, cfg.Router.Port)

	require.NoError(t, ValidateBuild(cfg))
}

func TestLoad_GeneratesDeploymentID(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Build.DeploymentID, 36)
}

func TestLoad_FileWithEnvExpansionAndOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
build:
  project_id: from-file
  repo_url: ${TEST_REPO_URL}
  output_dirs: [out, public]
router:
  base_path: http://objects.local/__outputs/
  port: 9000
database:
  driver: postgres
  dsn: postgres://u:p@db/pagedeploy
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TEST_REPO_URL", "https://example.com/from-env.git")
	t.Setenv("PROJECT_ID", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Build.ProjectID, "environment wins over file")
	assert.Equal(t, "https://example.com/from-env.git", cfg.Build.RepoURL)
	assert.Equal(t, []string{"out", "public"}, cfg.Build.OutputDirs)
	assert.Equal(t, 9000, cfg.Router.Port)
	assert.Equal(t, DatabasePostgres, cfg.Database.Driver)
	require.NoError(t, ValidateRouter(cfg))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestValidateBuild_ReportsMissingField(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	err := ValidateBuild(cfg)
	require.Error(t, err)
	c, ok := derrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, derrors.CategoryConfig, c.Category())
	field, _ := c.Context().GetString("field")
	assert.Equal(t, "build.project_id", field)
}

func TestValidateBuild_RejectsProjectIDWithPathSegments(t *testing.T) {
	for _, id := range []string{"..", ".", "../evil", "a/b"} {
		cfg := &Config{
			Build:     BuildConfig{ProjectID: id, RepoURL: "https://example.com/r.git"},
			Storage:   StorageConfig{Driver: StorageFS},
			Telemetry: TelemetryConfig{Sink: SinkSQLite},
		}
		applyDefaults(cfg)

		err := ValidateBuild(cfg)
		require.Error(t, err, id)
		c, ok := derrors.AsClassified(err)
		require.True(t, ok)
		field, _ := c.Context().GetString("field")
		assert.Equal(t, "build.project_id", field)
	}
}

func TestValidateBuild_FSStorageAndSQLiteSink(t *testing.T) {
	cfg := &Config{
		Build:     BuildConfig{ProjectID: "p1", RepoURL: "https://example.com/r.git"},
		Storage:   StorageConfig{Driver: StorageFS},
		Telemetry: TelemetryConfig{Sink: SinkSQLite},
	}
	applyDefaults(cfg)
	require.NoError(t, ValidateBuild(cfg))
	assert.Equal(t, DefaultStorageDir, cfg.Storage.Directory)
}

func TestValidateRouter(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing base path", func(c *Config) { c.Router.BasePath = "" }, "router.base_path"},
		{"relative base path", func(c *Config) { c.Router.BasePath = "/outputs/" }, "router.base_path"},
		{"bad ttl", func(c *Config) { c.Router.CacheTTL = "soon" }, "router.cache_ttl"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"file store skips database", func(c *Config) { c.Database.Driver = "mysql"; c.Router.ProjectsFile = "projects.yaml" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Router: RouterConfig{BasePath: "http://objects.local/__outputs/"}}
			applyDefaults(cfg)
			tt.mutate(cfg)
			err := ValidateRouter(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			c, ok := derrors.AsClassified(err)
			require.True(t, ok)
			field, _ := c.Context().GetString("field")
			assert.Equal(t, tt.wantErr, field)
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "container-logs")
}
