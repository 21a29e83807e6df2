// Package dropbox adapts the Dropbox upload session API to chunkuploader.SessionClient.
package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/hashicorp/go-retryablehttp"
)

// API is the subset of files.Client used for session uploads.
type API interface {
	GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error)
	UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error)
	UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error
	UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error)
}

// Client uploads through concurrent Dropbox upload sessions.
type Client struct {
	api    API
	logger log.Logger
}

// New wraps an existing API implementation.
func New(api API, logger log.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// NewWithToken creates a Client for the account the access token belongs to.
// Connection level failures are retried by the HTTP client; API responses are passed through so
// that rate limits and session errors reach the uploader.
func NewWithToken(token string, logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.CheckRetry = transportOnlyRetryPolicy(logger)

	config := dropbox.Config{
		Token:  token,
		Client: httpClient.StandardClient(),
	}
	return New(files.New(config), logger)
}

func transportOnlyRetryPolicy(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil {
			return false, nil
		}
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

// StartSession opens a concurrent upload session, which accepts appends in any order. The
// destination is only needed at commit time.
func (c *Client) StartSession(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	arg := files.NewUploadSessionStartArg()
	arg.SessionType = &files.UploadSessionType{Tagged: dropbox.Tagged{Tag: files.UploadSessionTypeConcurrent}}

	res, err := c.api.UploadSessionStart(arg, bytes.NewReader(nil))
	if err != nil {
		return "", classify(err)
	}
	return res.SessionId, nil
}

// AppendBlock ...
func (c *Client) AppendBlock(ctx context.Context, arg chunkuploader.AppendArg, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	appendArg := files.NewUploadSessionAppendArg(files.NewUploadSessionCursor(arg.SessionID, arg.Offset))
	appendArg.Close = arg.Close

	if err := c.api.UploadSessionAppendV2(appendArg, bytes.NewReader(data)); err != nil {
		return classify(err)
	}
	return nil
}

// FinishSession commits the session to arg.Path.
func (c *Client) FinishSession(ctx context.Context, arg chunkuploader.CommitArg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	commit := files.NewCommitInfo(arg.Path)
	if arg.Overwrite {
		commit.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	}
	if !arg.ClientModified.IsZero() {
		modified := arg.ClientModified.UTC().Truncate(time.Second)
		commit.ClientModified = &modified
	}

	finishArg := files.NewUploadSessionFinishArg(files.NewUploadSessionCursor(arg.SessionID, arg.Offset), commit)
	metadata, err := c.api.UploadSessionFinish(finishArg, bytes.NewReader(nil))
	if err != nil {
		return classify(err)
	}

	c.logger.Debugf("Committed %s (%d bytes, rev %s)", metadata.PathDisplay, metadata.Size, metadata.Rev)
	return nil
}

// GetMetadata ...
func (c *Client) GetMetadata(ctx context.Context, path string) (chunkuploader.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return chunkuploader.Metadata{}, err
	}

	res, err := c.api.GetMetadata(files.NewGetMetadataArg(path))
	if err != nil {
		if isNotFound(err) {
			return chunkuploader.Metadata{Kind: chunkuploader.MetadataNotFound}, nil
		}
		return chunkuploader.Metadata{}, classify(err)
	}

	switch m := res.(type) {
	case *files.FileMetadata:
		return chunkuploader.Metadata{Kind: chunkuploader.MetadataFile, Size: m.Size}, nil
	case *files.FolderMetadata:
		return chunkuploader.Metadata{Kind: chunkuploader.MetadataFolder}, nil
	case *files.DeletedMetadata:
		return chunkuploader.Metadata{Kind: chunkuploader.MetadataDeleted}, nil
	default:
		return chunkuploader.Metadata{}, fmt.Errorf("unexpected metadata type %T for %s", res, path)
	}
}

func isNotFound(err error) bool {
	var apiErr files.GetMetadataAPIError
	if !errors.As(err, &apiErr) || apiErr.EndpointError == nil {
		return false
	}
	endpointErr := apiErr.EndpointError
	return endpointErr.Tag == files.GetMetadataErrorPath &&
		endpointErr.Path != nil &&
		endpointErr.Path.Tag == files.LookupErrorNotFound
}
