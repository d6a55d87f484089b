package cenc

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type Direction uint8

const (
	Encrypt Direction = iota
	Decrypt
)

func (d Direction) String() string {
	if d == Decrypt {
		return "decrypt"
	}
	return "encrypt"
}

// SampleView transforms the samples of a parent source on access. The
// parent is never modified and nothing is cached, so repeated access to the
// same index returns equal buffers.
//
// A SampleView is safe for concurrent use: the AES block is read-only and
// every call builds its own CTR stream.
type SampleView struct {
	dir      Direction
	parent   SampleSource
	aux      []AuxData
	block    cipher.Block
	log      *slog.Logger
	warnings atomic.Int64
}

// NewSampleView checks the key and the aux data count up front so that a
// bad configuration fails before any sample is produced.
func NewSampleView(dir Direction, parent SampleSource, aux []AuxData, key []byte, logger *slog.Logger) (*SampleView, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(aux) != parent.Len() {
		return nil, &ConfigurationError{
			Op:  dir.String(),
			Err: fmt.Errorf("%w: %d records for %d samples", ErrAuxDataMismatch, len(aux), parent.Len()),
		}
	}
	return &SampleView{
		dir:    dir,
		parent: parent,
		aux:    aux,
		block:  block,
		log:    loggerOrDefault(logger),
	}, nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, &CryptoError{Err: fmt.Errorf("%w, got %d", ErrKeySize, len(key))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Err: err}
	}
	return block, nil
}

func (v *SampleView) Len() int { return len(v.aux) }

func (v *SampleView) Direction() Direction { return v.dir }

// Warnings returns how many samples had bytes left over after their
// subsample pairs.
func (v *SampleView) Warnings() int64 { return v.warnings.Load() }

func (v *SampleView) Sample(i int) ([]byte, error) {
	if i < 0 || i >= len(v.aux) {
		return nil, fmt.Errorf("sample %d out of range [0,%d)", i, len(v.aux))
	}
	in, err := v.parent.Sample(i)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample %d: %w", i, err)
	}

	out, err := transformSample(v.block, in, v.aux[i])
	if err != nil {
		var warning *DataIntegrityWarning
		if !errors.As(err, &warning) {
			return nil, fmt.Errorf("failed to %s sample %d: %w", v.dir, i, err)
		}
		warning.Sample = i
		v.warnings.Add(1)
		v.log.Warn("sample data remaining after subsample pairs", "direction", v.dir.String(), "sample", i, "size", len(in), "remaining", warning.Remaining)
	}
	return out, nil
}

// transformSample applies AES-CTR to one sample. CTR is symmetric, so the
// same routine encrypts and decrypts. The keystream runs continuously across
// all encrypted spans of the sample.
func transformSample(block cipher.Block, in []byte, aux AuxData) ([]byte, error) {
	stream := cipher.NewCTR(block, aux.FullIV())
	out := make([]byte, len(in))

	switch {
	case aux.Mode == WholeSample, aux.Mode == Partitioned && len(aux.Pairs) == 0:
		stream.XORKeyStream(out, in)
		return out, nil
	case aux.Mode != Partitioned:
		return nil, fmt.Errorf("unknown mode %v", aux.Mode)
	}

	var pos int
	for _, pair := range aux.Pairs {
		end := uint64(pos) + pair.Size()
		if end > uint64(len(in)) {
			return nil, fmt.Errorf("%w: pair of %d bytes at offset %d, sample is %d bytes", ErrSubsampleOverrun, pair.Size(), pos, len(in))
		}
		clearEnd := pos + int(pair.Clear)
		copy(out[pos:clearEnd], in[pos:clearEnd])
		if pair.Encrypted > 0 {
			stream.XORKeyStream(out[clearEnd:end], in[clearEnd:end])
		}
		pos = int(end)
	}

	if pos < len(in) {
		copy(out[pos:], in[pos:])
		return out, &DataIntegrityWarning{Sample: -1, Remaining: len(in) - pos, Reason: "unconsumed bytes after subsample pairs"}
	}
	return out, nil
}

// Materialize reads every sample of src, running up to workers reads at a
// time (no limit when workers <= 0). Samples of a SampleView only depend on
// their own aux data so the order of evaluation does not matter.
func Materialize(ctx context.Context, src SampleSource, workers int) ([][]byte, error) {
	out := make([][]byte, src.Len())

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range out {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sample, err := src.Sample(i)
			if err != nil {
				return err
			}
			out[i] = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
