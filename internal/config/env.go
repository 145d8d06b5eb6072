package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envFiles are loaded in order; values already present in the environment win.
var envFiles = []string{".env", ".env.local"}

func loadEnvFiles() error {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// applyEnv overlays the build job and proxy environment variables. Only
// non-empty variables override file values.
func applyEnv(cfg *Config) {
	setString(&cfg.Build.ProjectID, "PROJECT_ID")
	setString(&cfg.Build.DeploymentID, "DEPLOYMENT_ID")
	setString(&cfg.Build.RepoURL, "GIT_REPO_URL")
	setString(&cfg.Build.WorkDir, "WORK_DIR")
	setString(&cfg.Build.CloneStrategy, "CLONE_STRATEGY")
	setString(&cfg.Build.InstallCommand, "INSTALL_COMMAND")
	setString(&cfg.Build.BuildCommand, "BUILD_COMMAND")
	setString(&cfg.Build.DrainTimeout, "DRAIN_TIMEOUT")
	if v := os.Getenv("OUTPUT_DIRS"); v != "" {
		cfg.Build.OutputDirs = splitList(v)
	}

	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.Bucket, "AWS_BUCKET_NAME")
	setString(&cfg.Storage.Region, "AWS_REGION")
	setString(&cfg.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&cfg.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.Storage.Endpoint, "S3_ENDPOINT")
	setBool(&cfg.Storage.UsePathStyle, "S3_USE_PATH_STYLE")
	setString(&cfg.Storage.Directory, "STORAGE_DIR")

	setString(&cfg.Telemetry.Sink, "LOG_SINK")
	setString(&cfg.Telemetry.NATSURL, "NATS_URL")
	setString(&cfg.Telemetry.Username, "NATS_USERNAME")
	setString(&cfg.Telemetry.Password, "NATS_PASSWORD")
	setString(&cfg.Telemetry.Token, "NATS_TOKEN")
	setString(&cfg.Telemetry.Subject, "LOG_SUBJECT")
	setString(&cfg.Telemetry.Stream, "LOG_STREAM")
	setString(&cfg.Telemetry.DBPath, "LOG_DB")

	setString(&cfg.Router.BasePath, "BASE_PATH")
	setInt(&cfg.Router.Port, "PORT")
	setString(&cfg.Router.RootDomain, "ROOT_DOMAIN")
	setString(&cfg.Router.ProjectsFile, "PROJECTS_FILE")
	setString(&cfg.Router.CacheTTL, "CACHE_TTL")
	setString(&cfg.Router.UpstreamTimeout, "UPSTREAM_TIMEOUT")
	setString(&cfg.Router.NegativeCacheTTL, "NEGATIVE_CACHE_TTL")
	setString(&cfg.Router.ObjectsDir, "OBJECTS_DIR")

	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_URL")

	setString(&cfg.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
