// Package gdrive uploads export files into a Google Drive folder with a service account.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bitrise-io/redundinator/upload"
	"github.com/docker/go-units"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// maxHTTPRetries bounds retryablehttp's own loop; the retry delegate gives up well before.
const maxHTTPRetries = 100

// Params ...
type Params struct {
	ServiceAccountKeyFile string
	// Subject is the user the service account acts as.
	Subject string
	// ParentID is the ID of the destination folder, not its name.
	ParentID string
}

// Uploader uploads files into one Drive folder. Files that already exist there by name are skipped.
type Uploader struct {
	api      api
	delegate *retryDelegate
	parentID string
	logger   log.Logger
	observer upload.Observer
}

// Connect authenticates with the service account key and returns an Uploader for the folder.
func Connect(ctx context.Context, params Params, logger log.Logger) (*Uploader, error) {
	if params.ParentID == "" {
		return nil, fmt.Errorf("destination folder ID must not be empty")
	}

	key, err := os.ReadFile(params.ServiceAccountKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(key, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	jwtConfig.Subject = params.Subject

	delegate := newRetryDelegate()
	retryableClient := retryhttp.NewClient(logger)
	retryableClient.CheckRetry = delegate.checkRetry
	retryableClient.Backoff = delegate.wait
	retryableClient.RetryMax = maxHTTPRetries

	ctx = context.WithValue(ctx, oauth2.HTTPClient, retryableClient.StandardClient())
	service, err := drive.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newUploader(serviceAPI{service: service}, delegate, params.ParentID, logger), nil
}

func newUploader(api api, delegate *retryDelegate, parentID string, logger log.Logger) *Uploader {
	return &Uploader{
		api:      api,
		delegate: delegate,
		parentID: parentID,
		logger:   logger,
		observer: noopObserver{},
	}
}

// WithObserver registers a telemetry receiver and returns the uploader.
func (u *Uploader) WithObserver(o upload.Observer) *Uploader {
	u.observer = o
	return u
}

// UploadFile implements upload.FileUploader.
func (u *Uploader) UploadFile(ctx context.Context, sourcePath string) upload.Outcome {
	outcome := u.uploadFile(ctx, sourcePath)
	u.observer.FileFinished(outcome)
	return outcome
}

func (u *Uploader) uploadFile(ctx context.Context, sourcePath string) upload.Outcome {
	name := filepath.Base(sourcePath)
	u.delegate.reset()

	found, err := u.api.FindFile(ctx, u.parentID, name)
	if err != nil {
		u.logger.Errorf("Couldn't check if %s is already in Google Drive: %s", name, err)
		return upload.OutcomeFailure
	}
	if found {
		u.logger.Infof("File already in Google Drive: %s", sourcePath)
		return upload.OutcomeSkipped
	}

	file, err := os.Open(sourcePath)
	if err != nil {
		u.logger.Errorf("Couldn't open %s: %s", sourcePath, err)
		return upload.OutcomeFailure
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", sourcePath, err)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		u.logger.Errorf("Couldn't get the size of %s: %s", sourcePath, err)
		return upload.OutcomeFailure
	}

	about, err := u.api.About(ctx)
	if err != nil {
		u.logger.Errorf("Couldn't check free space on Google Drive, stopping uploads: %s", err)
		return upload.OutcomeSystemicFailure
	}
	if err := checkFreeSpace(about, info.Size()); err != nil {
		u.logger.Errorf("%s, stopping uploads", err)
		return upload.OutcomeSystemicFailure
	}

	u.logger.Infof("Uploading file to Google Drive: %s", sourcePath)
	metadata := &drive.File{
		Name:             name,
		OriginalFilename: name,
		Description:      "backup archive",
		MimeType:         mimeType,
		Parents:          []string{u.parentID},
	}
	progress := func(current, total int64) {
		u.logger.Debugf("%s: %s of %s uploaded", name, units.HumanSize(float64(current)), units.HumanSize(float64(info.Size())))
	}

	created, err := u.api.Create(ctx, metadata, file, progress)
	if err != nil {
		outcome := classify(err)
		u.logger.Errorf("Couldn't upload %s (%s): %s", sourcePath, outcome, err)
		return outcome
	}

	u.logger.Donef("Uploaded %s to Google Drive as %s", sourcePath, created.Id)
	return upload.OutcomeSuccess
}

type noopObserver struct{}

func (noopObserver) FileFinished(upload.Outcome) {}
func (noopObserver) AttemptResumed(bool)         {}
