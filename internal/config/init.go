package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Build: BuildConfig{
			ProjectID:      "${PROJECT_ID}",
			RepoURL:        "${GIT_REPO_URL}",
			CloneStrategy:  DefaultCloneStrategy,
			InstallCommand: DefaultInstallCommand,
			BuildCommand:   DefaultBuildCommand,
			OutputDirs:     DefaultOutputDirs(),
			DrainTimeout:   DefaultDrainTimeout.String(),
		},
		Storage: StorageConfig{
			Driver:          StorageS3,
			Bucket:          "${AWS_BUCKET_NAME}",
			Region:          "${AWS_REGION}",
			AccessKeyID:     "${AWS_ACCESS_KEY_ID}",
			SecretAccessKey: "${AWS_SECRET_ACCESS_KEY}",
		},
		Telemetry: TelemetryConfig{
			Sink:     SinkNATS,
			NATSURL:  DefaultNATSURL,
			Username: "${NATS_USERNAME}",
			Password: "${NATS_PASSWORD}",
			Subject:  DefaultLogSubject,
		},
		Router: RouterConfig{
			Port:            DefaultPort,
			BasePath:        "https://${AWS_BUCKET_NAME}.s3.${AWS_REGION}.amazonaws.com/__outputs/",
			CacheTTL:        DefaultCacheTTL.String(),
			UpstreamTimeout: DefaultUpstreamTimeout.String(),
		},
		Database: DatabaseConfig{
			Driver: DatabaseSQLite,
			DSN:    DefaultDatabaseDSN,
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
