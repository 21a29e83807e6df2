package gdrive

import (
	"errors"

	"github.com/bitrise-io/redundinator/upload"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// classify decides whether a failed upload only affects the file or the whole drive.
//
// Client errors (bad request, quota, size limit, permissions) and credential failures will fail
// every following file the same way. Connection problems and server errors are file failures.
func classify(err error) upload.Outcome {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 400 && apiErr.Code < 500 {
			return upload.OutcomeSystemicFailure
		}
		return upload.OutcomeFailure
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return upload.OutcomeSystemicFailure
	}

	return upload.OutcomeFailure
}
