package mp4src

import (
	"fmt"
	"io"

	"github.com/abema/go-mp4"
)

// sampleReader reads samples at their file offsets. It is safe for
// concurrent use as long as the underlying io.ReaderAt is.
type sampleReader struct {
	data    io.ReaderAt
	offsets []uint64
	sizes   []uint32
}

func newSampleReader(data io.ReaderAt, chunks mp4.Chunks, timing mp4.Samples) (*sampleReader, error) {
	s := &sampleReader{
		data:    data,
		offsets: make([]uint64, 0, len(timing)),
		sizes:   make([]uint32, 0, len(timing)),
	}

	var si int
	for _, chunk := range chunks {
		offset := chunk.DataOffset
		end := si + int(chunk.SamplesPerChunk)
		for ; si < end && si < len(timing); si++ {
			s.offsets = append(s.offsets, offset)
			s.sizes = append(s.sizes, timing[si].Size)
			offset += uint64(timing[si].Size)
		}
	}
	if si != len(timing) {
		return nil, fmt.Errorf("chunk tables cover %d of %d samples", si, len(timing))
	}
	return s, nil
}

func (s *sampleReader) Len() int { return len(s.sizes) }

func (s *sampleReader) Sample(i int) ([]byte, error) {
	if i < 0 || i >= len(s.sizes) {
		return nil, fmt.Errorf("sample %d out of range [0,%d)", i, len(s.sizes))
	}
	buf := make([]byte, s.sizes[i])
	// ReaderAt may report io.EOF along with a complete read at the end of the data
	n, err := s.data.ReadAt(buf, int64(s.offsets[i]))
	if n == len(buf) {
		return buf, nil
	}
	return nil, fmt.Errorf("failed to read sample %d at offset %d: %w", i, s.offsets[i], err)
}
