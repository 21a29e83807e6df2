package chunkuploader

import (
	"errors"
	"fmt"
	"io"
)

type block struct {
	// offset is relative to where the reader started.
	offset uint64
	data   []byte
}

// blockReader splits a stream into consecutive blocks. Every block gets its own buffer, so blocks
// can be handed to concurrent workers.
type blockReader struct {
	r      io.Reader
	size   int
	offset uint64
}

func newBlockReader(r io.Reader, size int) *blockReader {
	return &blockReader{r: r, size: size}
}

// Next returns the next block. Only the last block can be shorter than the block size.
// Returns io.EOF when the stream is exhausted.
func (br *blockReader) Next() (block, error) {
	buf := make([]byte, br.size)
	n, err := io.ReadFull(br.r, buf)
	if errors.Is(err, io.EOF) {
		return block{}, io.EOF
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return block{}, fmt.Errorf("read block at offset %d: %w", br.offset, err)
	}

	b := block{offset: br.offset, data: buf[:n]}
	br.offset += uint64(n)
	return b, nil
}
