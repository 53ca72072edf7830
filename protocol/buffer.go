package protocol

import (
	"bytes"
	"fmt"
)

// FrameBuffer reassembles a chunked byte stream into complete lines.
//
// It is not safe for concurrent use, each connection owns exactly one.
type FrameBuffer struct {
	buf []byte

	// maxSize bounds the bytes held for an incomplete frame, 0 means unbounded
	maxSize int
}

func NewFrameBuffer(maxSize int) *FrameBuffer {
	return &FrameBuffer{maxSize: maxSize}
}

// Feed appends chunk to any buffered remainder and returns every complete
// line, in order, without terminators. Blank lines are skipped. Bytes after
// the last terminator are kept until a later chunk completes them.
//
// The returned lines do not alias chunk. Lines returned alongside an
// ErrFrameTooLarge error are complete and valid.
func (f *FrameBuffer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	end := bytes.LastIndexByte(f.buf, Terminal)
	if end < 0 {
		return nil, f.checkSize()
	}

	complete := f.buf[:end]
	rest := f.buf[end+1:]

	var lines [][]byte
	for _, line := range bytes.Split(complete, []byte{Terminal}) {
		line = RemoveTrailingCR(line)
		if len(line) == 0 {
			continue
		}

		lines = append(lines, append([]byte(nil), line...))
	}

	f.buf = append(f.buf[:0], rest...)

	return lines, f.checkSize()
}

func (f *FrameBuffer) checkSize() error {
	if f.maxSize <= 0 || len(f.buf) <= f.maxSize {
		return nil
	}

	size := len(f.buf)
	f.Reset()

	return fmt.Errorf("Buffered %d bytes without a terminator: %w", size, ErrFrameTooLarge)
}

// Buffered returns the number of bytes held for an incomplete frame
func (f *FrameBuffer) Buffered() int {
	return len(f.buf)
}

func (f *FrameBuffer) Reset() {
	f.buf = f.buf[:0]
}

func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		// Remove the optional trailing \r
		return data[:len(data)-1]
	}

	return data
}
