// Package archive checks split tar+zstd exports before they are uploaded.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// Summary describes a readable export.
type Summary struct {
	Parts        int
	Entries      int
	Files        int
	ContentBytes int64
}

// Verifier streams export parts through the zstd decoder and the tar reader without extracting
// anything.
type Verifier struct {
	logger log.Logger
}

// NewVerifier ...
func NewVerifier(logger log.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify reads the concatenation of parts, in order, to the end of the tar stream. It fails on a
// corrupt or truncated export.
func (v *Verifier) Verify(ctx context.Context, parts []string) (Summary, error) {
	if len(parts) == 0 {
		return Summary{}, errors.New("no export parts given")
	}

	readers := make([]io.Reader, 0, len(parts))
	for _, part := range parts {
		f, err := os.Open(part)
		if err != nil {
			return Summary{}, fmt.Errorf("open export part: %w", err)
		}
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				v.logger.Warnf("Failed to close %s: %s", f.Name(), err)
			}
		}(f)
		readers = append(readers, f)
	}

	zr, err := zstd.NewReader(io.MultiReader(readers...))
	if err != nil {
		return Summary{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	summary := Summary{Parts: len(parts)}
	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("read tar entry %d: %w", summary.Entries+1, err)
		}
		summary.Entries++

		if header.Typeflag != tar.TypeReg {
			continue
		}
		n, err := io.Copy(io.Discard, tr)
		if err != nil {
			return summary, fmt.Errorf("read %s: %w", header.Name, err)
		}
		summary.Files++
		summary.ContentBytes += n
	}

	v.logger.Debugf("Export verified: %d part(s), %d entries, %d bytes of content", summary.Parts, summary.Entries, summary.ContentBytes)
	return summary, nil
}
