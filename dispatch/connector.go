package dispatch

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/config"
	"github.com/bitrise-io/redundinator/upload"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
	"github.com/bitrise-io/redundinator/upload/dropbox"
	"github.com/bitrise-io/redundinator/upload/gdrive"
	"github.com/bitrise-io/redundinator/upload/s3"
)

// Observer receives block and file telemetry of one target.
type Observer interface {
	chunkuploader.Observer
	upload.Observer
}

// ObserverFactory returns the observer of a target.
type ObserverFactory func(target string) Observer

// SettingsConnector connects to the real remotes described by the settings.
type SettingsConnector struct {
	settings  config.Settings
	observers ObserverFactory
	logger    log.Logger
}

// NewSettingsConnector ...
func NewSettingsConnector(settings config.Settings, observers ObserverFactory, logger log.Logger) *SettingsConnector {
	return &SettingsConnector{
		settings:  settings,
		observers: observers,
		logger:    logger,
	}
}

// Connect implements Connector.
func (c *SettingsConnector) Connect(ctx context.Context, target string) (upload.FileUploader, error) {
	observer := c.observers(target)
	chunkConfig := c.settings.Upload.ChunkConfig()

	switch target {
	case TargetDropbox:
		client := dropbox.NewWithToken(string(c.settings.Dropbox.Token), c.logger)
		return c.sessionUploader(client, c.settings.Dropbox.DestPath, observer), nil
	case TargetS3:
		client, err := s3.NewFromParams(ctx, s3.Params{
			Region:          c.settings.S3.Region,
			Bucket:          c.settings.S3.Bucket,
			AccessKeyID:     c.settings.S3.AccessKeyID,
			SecretAccessKey: string(c.settings.S3.SecretAccessKey),
			PartSize:        int64(chunkConfig.RequestSize()),
		}, c.logger)
		if err != nil {
			return nil, err
		}
		return c.sessionUploader(client, c.settings.S3.DestPath, observer), nil
	case TargetGDrive:
		uploader, err := gdrive.Connect(ctx, gdrive.Params{
			ServiceAccountKeyFile: c.settings.GDrive.ServiceAccountKeyFile,
			Subject:               c.settings.GDrive.Subject,
			ParentID:              c.settings.GDrive.FolderID,
		}, c.logger)
		if err != nil {
			return nil, err
		}
		return uploader.WithObserver(observer), nil
	default:
		return nil, fmt.Errorf("unknown target: %s", target)
	}
}

func (c *SettingsConnector) sessionUploader(client chunkuploader.SessionClient, destDir string, observer Observer) *upload.SessionUploader {
	chunks := chunkuploader.New(c.settings.Upload.ChunkConfig(), client, c.logger, chunkuploader.WithObserver(observer))
	return upload.NewSessionUploader(chunks, client, destDir, c.logger, upload.WithObserver(observer))
}
