package cenc

import (
	"errors"

	"github.com/abema/go-mp4"
)

// DivideTimescale returns a track whose timescale, sample durations and
// composition offsets are divided by divisor. The duration becomes the sum
// of the scaled sample durations. Samples, sample entry, sync samples and
// edits are those of src.
func DivideTimescale(src *Track, divisor uint32) (*Track, error) {
	if divisor == 0 {
		return nil, &ConfigurationError{Op: "divide timescale", Err: errors.New("divisor must not be zero")}
	}

	track := src.derive("timescale("+src.Name+")", src.SampleEntry, src.Samples)
	track.Timescale = src.Timescale / divisor

	if src.Timing != nil {
		track.Timing = make(mp4.Samples, len(src.Timing))
		var duration uint64
		for i, s := range src.Timing {
			scaled := &mp4.Sample{
				Size:                  s.Size,
				TimeDelta:             s.TimeDelta / divisor,
				CompositionTimeOffset: s.CompositionTimeOffset / int64(divisor),
			}
			duration += uint64(scaled.TimeDelta)
			track.Timing[i] = scaled
		}
		track.Duration = duration
	} else {
		track.Duration = src.Duration / uint64(divisor)
	}

	return &track, nil
}
