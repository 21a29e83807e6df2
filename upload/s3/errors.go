package s3

import (
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
)

// throttleWait is how long to back off when S3 asks to slow down without saying for how long.
const throttleWait = 5 * time.Second

var (
	throttlingCodes = map[string]bool{
		"SlowDown":                 true,
		"Throttling":               true,
		"ThrottlingException":      true,
		"RequestLimitExceeded":     true,
		"TooManyRequestsException": true,
	}
	systemicCodes = map[string]bool{
		"AccessDenied":          true,
		"AccountProblem":        true,
		"AllAccessDisabled":     true,
		"ExpiredToken":          true,
		"InvalidAccessKeyId":    true,
		"InvalidBucketName":     true,
		"NoSuchBucket":          true,
		"SignatureDoesNotMatch": true,
		"QuotaExceeded":         true,
	}
	permanentCodes = map[string]bool{
		"EntityTooLarge":   true,
		"EntityTooSmall":   true,
		"InvalidArgument":  true,
		"InvalidPart":      true,
		"InvalidPartOrder": true,
		"KeyTooLongError":  true,
		"NoSuchUpload":     true,
	}
)

// classify maps S3 API errors to the chunkuploader error contract.
func classify(err error) error {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return err
	}

	code := apiError.ErrorCode()
	switch {
	case throttlingCodes[code]:
		return &chunkuploader.RateLimitError{Reason: code, RetryAfter: throttleWait}
	case systemicCodes[code]:
		return &chunkuploader.PermanentError{Err: err, Systemic: true}
	case permanentCodes[code]:
		return &chunkuploader.PermanentError{Err: err}
	default:
		return err
	}
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}
	switch apiError.(type) {
	case *types.NotFound, *types.NoSuchKey:
		return true
	default:
		return apiError.ErrorCode() == "NotFound"
	}
}
