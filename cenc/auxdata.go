package cenc

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// Mode selects how a sample is transformed.
type Mode uint8

const (
	// WholeSample runs the entire sample through the cipher.
	WholeSample Mode = iota
	// Partitioned alternates clear and encrypted spans given by Pairs.
	Partitioned
)

func (m Mode) String() string {
	switch m {
	case WholeSample:
		return "whole-sample"
	case Partitioned:
		return "partitioned"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// AuxData is the per-sample encryption record: the 8 byte IV and, for
// partitioned samples, the subsample pairs.
type AuxData struct {
	IV    [8]byte
	Mode  Mode
	Pairs []SubsamplePair
}

func WholeSampleAux(iv [8]byte) AuxData {
	return AuxData{IV: iv, Mode: WholeSample}
}

func PartitionedAux(iv [8]byte, pairs []SubsamplePair) AuxData {
	return AuxData{IV: iv, Mode: Partitioned, Pairs: pairs}
}

// FullIV returns the 16 byte CTR IV: the stored IV followed by eight zero bytes.
func (a AuxData) FullIV() []byte {
	iv := make([]byte, 16)
	copy(iv, a.IV[:])
	return iv
}

// Size returns the number of sample bytes covered by the pairs.
func (a AuxData) Size() uint64 {
	var n uint64
	for _, p := range a.Pairs {
		n += p.Size()
	}
	return n
}

// IVCounter hands out consecutive 64-bit IVs starting at an initial value.
type IVCounter struct {
	start uint64
}

func NewIVCounter(initial [8]byte) IVCounter {
	return IVCounter{start: binary.BigEndian.Uint64(initial[:])}
}

// RandomIVCounter starts the counter at a value read from crypto/rand.
func RandomIVCounter() (IVCounter, error) {
	var initial [8]byte
	if _, err := rand.Read(initial[:]); err != nil {
		return IVCounter{}, &CryptoError{Err: fmt.Errorf("failed to read random IV: %w", err)}
	}
	return NewIVCounter(initial), nil
}

// At returns the IV of sample i. The counter wraps modulo 2^64.
func (c IVCounter) At(i int) [8]byte {
	var iv [8]byte
	binary.BigEndian.PutUint64(iv[:], c.start+uint64(i))
	return iv
}

type GenerateOptions struct {
	// DummyIV starts the IV counter at zero so output is reproducible.
	DummyIV bool
	Logger  *slog.Logger
}

// GenerateAuxData allocates an IV for every sample of the track and, when
// the sample entry carries an avcC box, partitions the samples along their
// NAL units.
func GenerateAuxData(track *Track, opts GenerateOptions) ([]AuxData, error) {
	log := loggerOrDefault(opts.Logger)

	counter := IVCounter{}
	if !opts.DummyIV {
		var err error
		if counter, err = RandomIVCounter(); err != nil {
			return nil, err
		}
	}

	lengthSize := track.NALLengthSize()
	n := track.Samples.Len()
	aux := make([]AuxData, n)
	for i := 0; i < n; i++ {
		iv := counter.At(i)
		if lengthSize == 0 {
			aux[i] = WholeSampleAux(iv)
			continue
		}

		sample, err := track.Samples.Sample(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read sample %d: %w", i, err)
		}
		pairs, err := Partition(sample, lengthSize)
		if err != nil {
			var warning *DataIntegrityWarning
			if !errors.As(err, &warning) {
				return nil, fmt.Errorf("failed to partition sample %d: %w", i, err)
			}
			warning.Sample = i
			log.Warn("malformed NAL structure", "track", track.TrackID, "sample", i, "reason", warning.Reason, "remaining", warning.Remaining)
		}
		log.Debug("partitioned sample", "track", track.TrackID, "sample", i, "size", len(sample), "pairs", len(pairs))
		aux[i] = PartitionedAux(iv, pairs)
	}

	return aux, nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
