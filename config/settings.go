// Package config loads the redundinator settings from a config file, the environment and flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/redundinator/upload/chunkuploader"
)

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Settings is the complete configuration, passed down explicitly to every component.
type Settings struct {
	// ExportPath is the directory holding the <source>_<timestamp>.tar.zst.<n> exports.
	ExportPath string `mapstructure:"export_path"`
	// MetricsAddr is where `serve` exposes Prometheus metrics. Empty disables the endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// Interval is how often `serve` enqueues the configured action.
	Interval time.Duration `mapstructure:"interval"`
	// Sources are the names of the backed up sources.
	Sources []string `mapstructure:"sources"`
	Verbose bool     `mapstructure:"verbose"`

	Action  Action  `mapstructure:"action"`
	Upload  Upload  `mapstructure:"upload"`
	Dropbox Dropbox `mapstructure:"dropbox"`
	GDrive  GDrive  `mapstructure:"gdrive"`
	S3      S3      `mapstructure:"s3"`
}

// Action selects what a dispatch does.
type Action struct {
	// Source limits the action to one source. When blank, all sources are used.
	Source        string `mapstructure:"source"`
	UploadDropbox bool   `mapstructure:"upload_dropbox"`
	UploadGDrive  bool   `mapstructure:"upload_gdrive"`
	UploadS3      bool   `mapstructure:"upload_s3"`
}

// Any reports whether the action uploads anywhere.
func (a Action) Any() bool {
	return a.UploadDropbox || a.UploadGDrive || a.UploadS3
}

func (a Action) String() string {
	var targets []string
	if a.UploadDropbox {
		targets = append(targets, "dropbox")
	}
	if a.UploadGDrive {
		targets = append(targets, "gdrive")
	}
	if a.UploadS3 {
		targets = append(targets, "s3")
	}
	source := a.Source
	if source == "" {
		source = "all sources"
	}
	return fmt.Sprintf("upload %s to [%s]", source, strings.Join(targets, ", "))
}

// Upload tunes the chunk uploader.
type Upload struct {
	Parallelism      int `mapstructure:"parallelism"`
	BlockSize        int `mapstructure:"block_size"`
	BlocksPerRequest int `mapstructure:"blocks_per_request"`
	MaxRetryPerBlock int `mapstructure:"max_retry_per_block"`
	// VerifyExports reads every export back through zstd and tar before uploading it.
	VerifyExports bool `mapstructure:"verify_exports"`
}

// ChunkConfig converts the settings to the chunk uploader's configuration.
func (u Upload) ChunkConfig() chunkuploader.Config {
	config := chunkuploader.DefaultConfig()
	config.Parallelism = u.Parallelism
	config.BlockSize = u.BlockSize
	config.BlocksPerRequest = u.BlocksPerRequest
	config.MaxRetryPerBlock = u.MaxRetryPerBlock
	return config
}

// Dropbox ...
type Dropbox struct {
	// DestPath is the folder in the Dropbox account where exports are stored.
	DestPath string `mapstructure:"dest_path"`
	Token    Secret `mapstructure:"-"`
}

// GDrive ...
type GDrive struct {
	ServiceAccountKeyFile string `mapstructure:"service_account_key_file"`
	// Subject is the user the service account impersonates.
	Subject string `mapstructure:"subject"`
	// FolderID is the ID of the destination folder.
	FolderID string `mapstructure:"folder_id"`
}

// S3 ...
type S3 struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	DestPath        string `mapstructure:"dest_path"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey Secret `mapstructure:"-"`
}

// Validate reports the first setting that makes the configured action impossible.
func (s Settings) Validate() error {
	if s.ExportPath == "" {
		return fmt.Errorf("export path must not be empty")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.Interval)
	}
	if len(s.Sources) == 0 {
		return fmt.Errorf("no sources are configured")
	}

	u := s.Upload
	if u.Parallelism < 1 {
		return fmt.Errorf("upload parallelism must be at least 1, got %d", u.Parallelism)
	}
	if u.BlocksPerRequest < 1 {
		return fmt.Errorf("blocks per request must be at least 1, got %d", u.BlocksPerRequest)
	}
	if u.MaxRetryPerBlock < 1 {
		return fmt.Errorf("max retry per block must be at least 1, got %d", u.MaxRetryPerBlock)
	}
	if u.BlockSize < 1 {
		return fmt.Errorf("block size must be positive, got %d", u.BlockSize)
	}

	if s.Action.UploadDropbox {
		if s.Dropbox.Token == "" {
			return fmt.Errorf("the secret '%s' is not defined", DropboxTokenEnvKey)
		}
		if u.BlockSize%chunkuploader.DefaultBlockSize != 0 {
			return fmt.Errorf("dropbox requires a block size that is a multiple of %d, got %d", chunkuploader.DefaultBlockSize, u.BlockSize)
		}
	}

	if s.Action.UploadGDrive {
		if s.GDrive.ServiceAccountKeyFile == "" {
			return fmt.Errorf("google drive service account key file must be set")
		}
		if s.GDrive.FolderID == "" {
			return fmt.Errorf("google drive folder ID must be set")
		}
	}

	if s.Action.UploadS3 {
		if s.S3.Bucket == "" || s.S3.Region == "" {
			return fmt.Errorf("s3 bucket and region must be set")
		}
		if s.Upload.ChunkConfig().RequestSize() < minS3PartSize {
			return fmt.Errorf("s3 requires at least %d bytes per request, got %d", minS3PartSize, s.Upload.ChunkConfig().RequestSize())
		}
	}

	return nil
}

const minS3PartSize = 5 * 1024 * 1024
