package chunkuploader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// PathNormalizationKind is the decision taken for a destination path before any bytes move.
type PathNormalizationKind int

const (
	// NewFile means nothing exists at the destination yet.
	NewFile PathNormalizationKind = iota
	// Replace means a different file exists at the destination and will be overwritten.
	Replace
	// SkipMatching means a file of the same size already exists, so the upload is skipped.
	SkipMatching
	// ResolveError means the destination could not be checked; the file is skipped for this run.
	ResolveError
)

func (k PathNormalizationKind) String() string {
	switch k {
	case NewFile:
		return "new file"
	case Replace:
		return "replace"
	case SkipMatching:
		return "skip matching"
	case ResolveError:
		return "error"
	default:
		return "unknown"
	}
}

// PathNormalizationResult is the outcome of ResolveDestination. Path is set for NewFile and
// Replace, Reason for ResolveError.
type PathNormalizationResult struct {
	Kind   PathNormalizationKind
	Path   string
	Reason string
}

// ResolveDestination decides where sourcePath should be uploaded, given the configured
// destination path and the local file size.
//
// Matching is by size only. A local file that changed without changing size is reported as
// SkipMatching.
func ResolveDestination(ctx context.Context, getter MetadataGetter, givenPath, sourcePath string, sourceSize uint64) PathNormalizationResult {
	filename := filepath.Base(sourcePath)
	if sourcePath == "" || filename == "." || filename == string(filepath.Separator) {
		return PathNormalizationResult{Kind: ResolveError, Reason: fmt.Sprintf("invalid source path %q has no filename", sourcePath)}
	}

	// The root has no metadata, look up the file inside it instead.
	destPath := givenPath
	if destPath == "/" {
		destPath += filename
	}

	return resolvePath(ctx, getter, destPath, filename, sourceSize)
}

func resolvePath(ctx context.Context, getter MetadataGetter, destPath, filename string, sourceSize uint64) PathNormalizationResult {
	metadata, err := getter.GetMetadata(ctx, destPath)
	if err != nil {
		return PathNormalizationResult{Kind: ResolveError, Reason: fmt.Sprintf("looking up destination %s: %s", destPath, err)}
	}

	switch metadata.Kind {
	case MetadataNotFound:
		return PathNormalizationResult{Kind: NewFile, Path: destPath}
	case MetadataFile:
		if metadata.Size == sourceSize {
			return PathNormalizationResult{Kind: SkipMatching}
		}
		return PathNormalizationResult{Kind: Replace, Path: destPath}
	case MetadataFolder:
		return resolvePath(ctx, getter, strings.TrimSuffix(destPath, "/")+"/"+filename, filename, sourceSize)
	default:
		return PathNormalizationResult{Kind: ResolveError, Reason: fmt.Sprintf("unexpected %s metadata at %s", metadata.Kind, destPath)}
	}
}
