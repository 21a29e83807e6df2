package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNothingToUpload is returned by ListFiles when a source has no export yet.
var ErrNothingToUpload = errors.New("nothing to upload")

// exportPartRegexp matches the part names of a single source's exports. The
// source name is anchored so that "web" does not pick up "web_prod" parts.
func exportPartRegexp(sourceName string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(sourceName) + `_(\d+)\.tar\.zst\.\d+$`)
}

type exportPart struct {
	path      string
	timestamp int64
}

func sourceExportParts(exportDir, sourceName string) ([]exportPart, error) {
	matches, err := globExports(exportDir, "*.tar.zst.*")
	if err != nil {
		return nil, err
	}

	re := exportPartRegexp(sourceName)
	var parts []exportPart
	for _, match := range matches {
		groups := re.FindStringSubmatch(filepath.Base(match))
		if groups == nil {
			continue
		}
		ts, err := strconv.ParseInt(groups[1], 10, 64)
		if err != nil {
			continue
		}
		parts = append(parts, exportPart{path: match, timestamp: ts})
	}
	return parts, nil
}

func latestTimestamp(parts []exportPart) int64 {
	latest := parts[0].timestamp
	for _, part := range parts[1:] {
		if part.timestamp > latest {
			latest = part.timestamp
		}
	}
	return latest
}

// LatestExportTimestamp returns the newest export timestamp of sourceName in exportDir. Exports are
// split into parts named <source>_<timestamp>.tar.zst.<part>.
func LatestExportTimestamp(exportDir, sourceName string) (int64, error) {
	parts, err := sourceExportParts(exportDir, sourceName)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, ErrNothingToUpload
	}

	return latestTimestamp(parts), nil
}

// ListFiles returns the parts of the latest export of sourceName, sorted by path.
func ListFiles(exportDir, sourceName string) ([]string, error) {
	parts, err := sourceExportParts(exportDir, sourceName)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, ErrNothingToUpload
	}

	latest := latestTimestamp(parts)

	var files []string
	for _, part := range parts {
		if part.timestamp == latest {
			files = append(files, part.path)
		}
	}

	sort.Strings(files)
	return files, nil
}

func globExports(exportDir, pattern string) ([]string, error) {
	names, err := doublestar.Glob(os.DirFS(exportDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s in %s: %w", pattern, exportDir, err)
	}

	var paths []string
	for _, name := range names {
		paths = append(paths, filepath.Join(exportDir, name))
	}
	return paths, nil
}
