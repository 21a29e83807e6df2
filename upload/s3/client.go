// Package s3 adapts S3 multipart uploads to chunkuploader.SessionClient.
//
// A multipart upload plays the role of the append session: every append becomes a part whose
// number is derived from its offset, and the commit completes the upload with the collected ETags.
// Sessions live in memory, so a checkpoint can only be resumed by the process that created it.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/redundinator/upload/chunkuploader"
)

// API is the subset of *s3.Client used for session uploads.
type API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Params ...
type Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// PartSize must match the uploader's request size. S3 requires at least 5 MiB for every part
	// except the last.
	PartSize int64
}

type session struct {
	key   string
	mu    sync.Mutex
	parts map[int32]string
}

// Client uploads to a single bucket.
type Client struct {
	api      API
	bucket   string
	partSize int64
	logger   log.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New wraps an existing API implementation.
func New(api API, bucket string, partSize int64, logger log.Logger) *Client {
	return &Client{
		api:      api,
		bucket:   bucket,
		partSize: partSize,
		logger:   logger,
		sessions: map[string]*session{},
	}
}

// NewFromParams creates a Client with credentials from params, or from the environment when they
// are not set.
func NewFromParams(ctx context.Context, params Params, logger log.Logger) (*Client, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if params.PartSize < 5*1024*1024 {
		return nil, fmt.Errorf("part size %d is below the 5 MiB S3 minimum", params.PartSize)
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return New(s3.NewFromConfig(*cfg), params.Bucket, params.PartSize, logger), nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

func objectKey(path string) string {
	return strings.TrimPrefix(path, "/")
}

// StartSession creates a multipart upload for destPath.
func (c *Client) StartSession(ctx context.Context, destPath string) (string, error) {
	key := objectKey(destPath)
	out, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return "", classify(err)
	}

	uploadID := aws.ToString(out.UploadId)
	c.mu.Lock()
	c.sessions[uploadID] = &session{key: key, parts: map[int32]string{}}
	c.mu.Unlock()

	c.logger.Debugf("Created multipart upload %s for s3://%s/%s", uploadID, c.bucket, key)
	return uploadID, nil
}

func (c *Client) session(uploadID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[uploadID]
	if !ok {
		return nil, &chunkuploader.PermanentError{Err: fmt.Errorf("unknown multipart upload %s", uploadID)}
	}
	return s, nil
}

// AppendBlock uploads the block as the part its offset maps to.
func (c *Client) AppendBlock(ctx context.Context, arg chunkuploader.AppendArg, data []byte) error {
	s, err := c.session(arg.SessionID)
	if err != nil {
		return err
	}

	if arg.Offset%uint64(c.partSize) != 0 {
		return &chunkuploader.PermanentError{Err: fmt.Errorf("offset %d is not aligned to the %d byte part size", arg.Offset, c.partSize)}
	}
	// An empty closing block adds nothing to the object.
	if arg.Close && len(data) == 0 {
		return nil
	}

	partNumber := int32(arg.Offset/uint64(c.partSize)) + 1
	out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(s.key),
		UploadId:      aws.String(arg.SessionID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return classify(err)
	}

	s.mu.Lock()
	s.parts[partNumber] = aws.ToString(out.ETag)
	s.mu.Unlock()
	return nil
}

// FinishSession completes the multipart upload. S3 has no client-settable modification time, and
// always overwrites, so those commit fields are not used.
func (c *Client) FinishSession(ctx context.Context, arg chunkuploader.CommitArg) error {
	s, err := c.session(arg.SessionID)
	if err != nil {
		return err
	}

	key := objectKey(arg.Path)
	if key != s.key {
		return &chunkuploader.PermanentError{Err: fmt.Errorf("multipart upload %s was started for %s, not %s", arg.SessionID, s.key, key)}
	}

	parts, err := s.completedParts(arg.Offset, c.partSize)
	if err != nil {
		return err
	}

	if len(parts) == 0 {
		return c.finishEmpty(ctx, arg.SessionID, key)
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(arg.SessionID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return classify(err)
	}

	c.forget(arg.SessionID)
	return nil
}

// finishEmpty stores an empty object; S3 cannot complete a multipart upload without parts.
func (c *Client) finishEmpty(ctx context.Context, uploadID, key string) error {
	if _, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}); err != nil {
		c.logger.Warnf("Failed to abort empty multipart upload %s: %s", uploadID, err)
	}

	if _, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	}); err != nil {
		return classify(err)
	}

	c.forget(uploadID)
	return nil
}

func (c *Client) forget(uploadID string) {
	c.mu.Lock()
	delete(c.sessions, uploadID)
	c.mu.Unlock()
}

// completedParts returns the parts in order, failing when one is missing for a file of size bytes.
func (s *session) completedParts(size uint64, partSize int64) ([]types.CompletedPart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expected := int32((size + uint64(partSize) - 1) / uint64(partSize))
	numbers := make([]int32, 0, len(s.parts))
	for n := range s.parts {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	if int32(len(numbers)) != expected {
		return nil, fmt.Errorf("multipart upload has %d parts, expected %d", len(numbers), expected)
	}

	parts := make([]types.CompletedPart, 0, len(numbers))
	for i, n := range numbers {
		if n != int32(i+1) {
			return nil, fmt.Errorf("multipart upload is missing part %d", i+1)
		}
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(s.parts[n]),
			PartNumber: aws.Int32(n),
		})
	}
	return parts, nil
}

// GetMetadata maps a path to an object, a folder when objects exist under it as a prefix, or
// nothing.
func (c *Client) GetMetadata(ctx context.Context, path string) (chunkuploader.Metadata, error) {
	key := objectKey(path)

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return chunkuploader.Metadata{Kind: chunkuploader.MetadataFile, Size: uint64(aws.ToInt64(head.ContentLength))}, nil
	}
	if !isNotFound(err) {
		return chunkuploader.Metadata{}, classify(err)
	}

	list, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(strings.TrimSuffix(key, "/") + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return chunkuploader.Metadata{}, classify(err)
	}
	if aws.ToInt32(list.KeyCount) > 0 {
		return chunkuploader.Metadata{Kind: chunkuploader.MetadataFolder}, nil
	}

	return chunkuploader.Metadata{Kind: chunkuploader.MetadataNotFound}, nil
}
