package chunkuploader

import "time"

const (
	// DefaultBlockSize is the Dropbox upload session block size. Every appended block except the
	// closing one must be a multiple of it.
	DefaultBlockSize = 4 * 1024 * 1024
	// DefaultBlocksPerRequest groups blocks into a single append request to reduce the request
	// count and stay clear of rate limits.
	DefaultBlocksPerRequest = 2
	// DefaultParallelism is the number of appends in flight at once.
	DefaultParallelism = 20
)

// Config holds configuration for the chunk uploader.
type Config struct {
	// Parallelism is the maximum number of parallel block appends.
	// Default: 20
	Parallelism int

	// BlockSize is the remote's block granularity in bytes.
	// Default: 4 MiB
	BlockSize int

	// BlocksPerRequest is how many blocks are sent in one append request.
	// Default: 2
	BlocksPerRequest int

	// MaxRetryPerBlock is the maximum number of attempts per block for ordinary errors.
	// Rate-limited attempts are not counted.
	// Default: 3
	MaxRetryPerBlock int

	// CommitAttempts is the number of attempts to finish the session.
	// Default: 3
	CommitAttempts int

	// CommitRetryWait is the wait between finish attempts.
	// Default: 1 second
	CommitRetryWait time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Parallelism:      DefaultParallelism,
		BlockSize:        DefaultBlockSize,
		BlocksPerRequest: DefaultBlocksPerRequest,
		MaxRetryPerBlock: 3,
		CommitAttempts:   3,
		CommitRetryWait:  time.Second,
	}
}

// RequestSize is the number of bytes sent by a full append request.
func (c Config) RequestSize() int {
	return c.BlockSize * c.BlocksPerRequest
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.BlocksPerRequest <= 0 {
		c.BlocksPerRequest = d.BlocksPerRequest
	}
	if c.MaxRetryPerBlock <= 0 {
		c.MaxRetryPerBlock = d.MaxRetryPerBlock
	}
	if c.CommitAttempts <= 0 {
		c.CommitAttempts = d.CommitAttempts
	}
	if c.CommitRetryWait < 0 {
		c.CommitRetryWait = 0
	}
	return c
}
