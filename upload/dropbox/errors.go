package dropbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bitrise-io/redundinator/upload/chunkuploader"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
)

// Endpoint error tags that make the whole account unusable for uploads.
var systemicTags = map[string]bool{
	files.WriteErrorInsufficientSpace: true,
	files.WriteErrorNoWritePermission: true,
	files.WriteErrorTeamFolder:        true,
	"insufficient_quota":              true,
}

// Endpoint error tags that retrying the same request cannot fix.
var permanentTags = map[string]bool{
	files.UploadSessionLookupErrorTooLarge:            true,
	files.UploadSessionLookupErrorPayloadTooLarge:     true,
	files.UploadSessionLookupErrorClosed:              true,
	files.UploadSessionLookupErrorNotFound:            true,
	files.UploadSessionAppendErrorContentHashMismatch: true,
	files.WriteErrorDisallowedName:                    true,
	files.WriteErrorMalformedPath:                     true,
}

// classify maps Dropbox SDK errors to the chunkuploader error contract.
// Only typed Dropbox API errors are inspected; anything else, transport
// failures included, is returned unchanged and treated as transient.
func classify(err error) error {
	var rateLimit auth.RateLimitAPIError
	if errors.As(err, &rateLimit) {
		reason := "rate limited"
		var retryAfter time.Duration
		if rateLimit.RateLimitError != nil {
			if rateLimit.RateLimitError.Reason != nil {
				reason = rateLimit.RateLimitError.Reason.Tag
			}
			retryAfter = time.Duration(rateLimit.RateLimitError.RetryAfter) * time.Second
		}
		return &chunkuploader.RateLimitError{Reason: reason, RetryAfter: retryAfter}
	}

	var authErr auth.AuthAPIError
	if errors.As(err, &authErr) {
		return &chunkuploader.PermanentError{Err: fmt.Errorf("dropbox authentication failed: %w", err), Systemic: true}
	}

	var accessErr auth.AccessAPIError
	if errors.As(err, &accessErr) {
		return &chunkuploader.PermanentError{Err: fmt.Errorf("dropbox access denied: %w", err), Systemic: true}
	}

	var internalErr dropbox.SDKInternalError
	if errors.As(err, &internalErr) {
		if internalErr.StatusCode == http.StatusBadRequest {
			return &chunkuploader.PermanentError{Err: fmt.Errorf("dropbox rejected the request: %w", err)}
		}
		return err
	}

	for _, tag := range endpointTags(err) {
		if systemicTags[tag] {
			return &chunkuploader.PermanentError{Err: err, Systemic: true}
		}
		if permanentTags[tag] {
			return &chunkuploader.PermanentError{Err: err}
		}
	}

	return err
}

// endpointTags returns the tag path of a typed upload endpoint error,
// outermost first. It is nil for errors that did not come from a Dropbox
// endpoint.
func endpointTags(err error) []string {
	var startErr files.UploadSessionStartAPIError
	if errors.As(err, &startErr) {
		if startErr.EndpointError != nil {
			return []string{startErr.EndpointError.Tag}
		}
		return summaryTags(startErr.ErrorSummary)
	}

	var appendErr files.UploadSessionAppendV2APIError
	if errors.As(err, &appendErr) {
		if appendErr.EndpointError != nil {
			return []string{appendErr.EndpointError.Tag}
		}
		return summaryTags(appendErr.ErrorSummary)
	}

	var finishErr files.UploadSessionFinishAPIError
	if errors.As(err, &finishErr) {
		e := finishErr.EndpointError
		if e == nil {
			return summaryTags(finishErr.ErrorSummary)
		}
		tags := []string{e.Tag}
		if e.LookupFailed != nil {
			tags = append(tags, e.LookupFailed.Tag)
		}
		if e.Path != nil {
			tags = append(tags, e.Path.Tag)
		}
		return tags
	}

	var metadataErr files.GetMetadataAPIError
	if errors.As(err, &metadataErr) {
		if metadataErr.EndpointError != nil && metadataErr.EndpointError.Path != nil {
			return []string{metadataErr.EndpointError.Tag, metadataErr.EndpointError.Path.Tag}
		}
		return summaryTags(metadataErr.ErrorSummary)
	}

	return nil
}

// summaryTags splits an error summary such as "path/insufficient_space/.."
// into its tag segments.
func summaryTags(summary string) []string {
	var tags []string
	for _, segment := range strings.Split(summary, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == ".." || segment == "..." {
			continue
		}
		tags = append(tags, segment)
	}
	return tags
}
