package cenc

import (
	"fmt"

	"github.com/abema/go-mp4"
	"github.com/google/uuid"
)

// SampleSource is an index addressable sequence of samples. Sample must
// return a buffer the caller is free to keep; it may be shared with the
// source and is never written to by this package.
type SampleSource interface {
	Len() int
	Sample(i int) ([]byte, error)
}

// Samples is an in-memory SampleSource.
type Samples [][]byte

func (s Samples) Len() int { return len(s) }

func (s Samples) Sample(i int) ([]byte, error) {
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("sample %d out of range [0,%d)", i, len(s))
	}
	return s[i], nil
}

type Track struct {
	TrackID     uint32
	Name        string
	Handler     string // hdlr handler type, e.g. "vide" or "soun"
	Timescale   uint32
	Duration    uint64
	SampleEntry *Box
	Samples     SampleSource
	Timing      mp4.Samples // per sample duration, composition offset and size
	SyncSamples []uint32    // 1-based sample numbers, nil when every sample is a sync sample
	EditList    mp4.EditList
}

// EncryptedTrack is a track whose samples are cenc protected. AuxData has
// one record per sample.
type EncryptedTrack struct {
	Track

	AuxData             []AuxData
	KeyID               uuid.UUID
	SubsampleEncryption bool
}

// NALLengthSize returns the NAL length prefix width declared by the avcC
// box of the sample entry, or 0 if the entry carries no NAL configuration.
func (t *Track) NALLengthSize() int {
	if t.SampleEntry == nil {
		return 0
	}
	return t.SampleEntry.NALLengthSize()
}

// derive copies the track metadata that passes through a transform.
func (t *Track) derive(name string, entry *Box, samples SampleSource) Track {
	return Track{
		TrackID:     t.TrackID,
		Name:        name,
		Handler:     t.Handler,
		Timescale:   t.Timescale,
		Duration:    t.Duration,
		SampleEntry: entry,
		Samples:     samples,
		Timing:      t.Timing,
		SyncSamples: t.SyncSamples,
		EditList:    t.EditList,
	}
}
