package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "REDUNDINATOR"

// Secrets are only read from the environment.
const (
	DropboxTokenEnvKey      = EnvPrefix + "_DROPBOX_TOKEN"
	S3AccessKeyIDEnvKey     = EnvPrefix + "_S3_ACCESS_KEY_ID"
	S3SecretAccessKeyEnvKey = EnvPrefix + "_S3_SECRET_ACCESS_KEY"
)

// DefaultConfigPath is used when no config file is given.
const DefaultConfigPath = "/etc/redundinator/config.json"

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("export_path", "/tmp/redundinator/exports/")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("interval", 24*time.Hour)
	v.SetDefault("sources", []string{})
	v.SetDefault("verbose", false)

	v.SetDefault("action.source", "")
	v.SetDefault("action.upload_dropbox", false)
	v.SetDefault("action.upload_gdrive", false)
	v.SetDefault("action.upload_s3", false)

	v.SetDefault("upload.parallelism", chunkuploader.DefaultParallelism)
	v.SetDefault("upload.block_size", chunkuploader.DefaultBlockSize)
	v.SetDefault("upload.blocks_per_request", chunkuploader.DefaultBlocksPerRequest)
	v.SetDefault("upload.max_retry_per_block", chunkuploader.DefaultConfig().MaxRetryPerBlock)
	v.SetDefault("upload.verify_exports", true)

	v.SetDefault("dropbox.dest_path", "/Backup/redundinator")

	v.SetDefault("gdrive.service_account_key_file", "")
	v.SetDefault("gdrive.subject", "")
	v.SetDefault("gdrive.folder_id", "")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.dest_path", "/redundinator")
	v.SetDefault("s3.access_key_id", "")
}

// Loader reads Settings with a fixed precedence: environment, then the config file, then defaults.
// Secrets come from the env repository only.
type Loader struct {
	viper        *viper.Viper
	envRepo      env.Repository
	pathModifier pathutil.PathModifier
}

// NewLoader creates a Loader on top of v. Callers may bind flags to v before calling Load.
func NewLoader(v *viper.Viper, envRepo env.Repository, pathModifier pathutil.PathModifier) *Loader {
	return &Loader{
		viper:        v,
		envRepo:      envRepo,
		pathModifier: pathModifier,
	}
}

// Load reads configPath, falling back to defaults when it does not exist, and validates the result.
func (l *Loader) Load(configPath string) (Settings, error) {
	v := l.viper
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return Settings{}, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}

	l.overlaySecrets(&settings)

	if err := l.expandPaths(&settings); err != nil {
		return Settings{}, err
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config: %w", err)
	}
	return settings, nil
}

func (l *Loader) overlaySecrets(settings *Settings) {
	if token := l.envRepo.Get(DropboxTokenEnvKey); token != "" {
		settings.Dropbox.Token = Secret(token)
	}
	if keyID := l.envRepo.Get(S3AccessKeyIDEnvKey); keyID != "" {
		settings.S3.AccessKeyID = keyID
	}
	if secret := l.envRepo.Get(S3SecretAccessKeyEnvKey); secret != "" {
		settings.S3.SecretAccessKey = Secret(secret)
	}
}

func (l *Loader) expandPaths(settings *Settings) error {
	exportPath, err := l.pathModifier.AbsPath(settings.ExportPath)
	if err != nil {
		return fmt.Errorf("expand export path %s: %w", settings.ExportPath, err)
	}
	settings.ExportPath = exportPath

	if settings.GDrive.ServiceAccountKeyFile != "" {
		keyFile, err := l.pathModifier.AbsPath(settings.GDrive.ServiceAccountKeyFile)
		if err != nil {
			return fmt.Errorf("expand service account key path %s: %w", settings.GDrive.ServiceAccountKeyFile, err)
		}
		settings.GDrive.ServiceAccountKeyFile = keyFile
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
