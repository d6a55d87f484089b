// Package mp4src builds cenc tracks from the sample tables of an MP4 file.
package mp4src

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/abema/go-mp4"
	"github.com/mattetti/cenctrack/cenc"
)

// ReadTracks walks moov/trak of the file read from r and returns one track
// per trak. Sample data is not read here: each track's samples are fetched
// from data on access, at the offsets given by the chunk tables. Each track
// is logged at debug level to log, or to slog.Default() when log is nil.
func ReadTracks(r io.ReadSeeker, data io.ReaderAt, log *slog.Logger) ([]*cenc.Track, error) {
	if log == nil {
		log = slog.Default()
	}
	var tracks []*cenc.Track

	_, err := mp4.ReadBoxStructure(r, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeMoov():
			return h.Expand()
		case mp4.BoxTypeTrak():
			track, err := processTrak(r, &h.BoxInfo, data)
			if err != nil {
				return nil, err
			}
			log.Debug("track",
				"id", track.TrackID,
				"handler", track.Handler,
				"entry", track.SampleEntry.Type.String(),
				"timescale", track.Timescale,
				"duration", track.Duration,
				"samples", track.Samples.Len(),
				"edits", len(track.EditList))
			tracks = append(tracks, track)
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read box structure: %w", err)
	}
	if len(tracks) == 0 {
		return nil, errors.New("no tracks found")
	}
	return tracks, nil
}

func stblPath(t ...mp4.BoxType) mp4.BoxPath {
	return append(mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl()}, t...)
}

func processTrak(r io.ReadSeeker, bi *mp4.BoxInfo, data io.ReaderAt) (*cenc.Track, error) {
	bips, err := mp4.ExtractBoxesWithPayload(r, bi, []mp4.BoxPath{
		{mp4.BoxTypeTkhd()},
		{mp4.BoxTypeEdts(), mp4.BoxTypeElst()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeMdhd()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()},
		stblPath(mp4.BoxTypeStco()),
		stblPath(mp4.BoxTypeCo64()),
		stblPath(mp4.BoxTypeStts()),
		stblPath(mp4.BoxTypeCtts()),
		stblPath(mp4.BoxTypeStsc()),
		stblPath(mp4.BoxTypeStsz()),
		stblPath(mp4.BoxTypeStss()),
	})
	if err != nil {
		return nil, err
	}
	var tkhd *mp4.Tkhd
	var elst *mp4.Elst
	var mdhd *mp4.Mdhd
	var hdlr *mp4.Hdlr
	var stco *mp4.Stco
	var co64 *mp4.Co64
	var stts *mp4.Stts
	var ctts *mp4.Ctts
	var stsc *mp4.Stsc
	var stsz *mp4.Stsz
	var stss *mp4.Stss

	for _, bip := range bips {
		switch bip.Info.Type {
		case mp4.BoxTypeTkhd():
			tkhd = bip.Payload.(*mp4.Tkhd)
		case mp4.BoxTypeElst():
			elst = bip.Payload.(*mp4.Elst)
		case mp4.BoxTypeMdhd():
			mdhd = bip.Payload.(*mp4.Mdhd)
		case mp4.BoxTypeHdlr():
			hdlr = bip.Payload.(*mp4.Hdlr)
		case mp4.BoxTypeStco():
			stco = bip.Payload.(*mp4.Stco)
		case mp4.BoxTypeCo64():
			co64 = bip.Payload.(*mp4.Co64)
		case mp4.BoxTypeStts():
			stts = bip.Payload.(*mp4.Stts)
		case mp4.BoxTypeCtts():
			ctts = bip.Payload.(*mp4.Ctts)
		case mp4.BoxTypeStsc():
			stsc = bip.Payload.(*mp4.Stsc)
		case mp4.BoxTypeStsz():
			stsz = bip.Payload.(*mp4.Stsz)
		case mp4.BoxTypeStss():
			stss = bip.Payload.(*mp4.Stss)
		}
	}

	var track cenc.Track

	if tkhd == nil {
		return nil, errors.New("tkhd box not found")
	}
	track.TrackID = tkhd.TrackID

	if elst != nil {
		editList := make(mp4.EditList, 0, len(elst.Entries))
		for i := range elst.Entries {
			editList = append(editList, &mp4.EditListEntry{
				MediaTime:       elst.GetMediaTime(i),
				SegmentDuration: elst.GetSegmentDuration(i),
			})
		}
		track.EditList = editList
	}

	if mdhd == nil {
		return nil, errors.New("mdhd box not found")
	}
	track.Timescale = mdhd.Timescale
	track.Duration = mdhd.GetDuration()

	if hdlr != nil {
		track.Handler = string(hdlr.HandlerType[:])
		track.Name = strings.TrimRight(hdlr.Name, "\x00")
	}
	if track.Name == "" {
		track.Name = fmt.Sprintf("track%d", track.TrackID)
	}

	entry, err := readSampleEntry(r, bi)
	if err != nil {
		return nil, fmt.Errorf("track %d: %w", track.TrackID, err)
	}
	track.SampleEntry = entry

	chunks := make(mp4.Chunks, 0)
	if stco != nil {
		for _, offset := range stco.ChunkOffset {
			chunks = append(chunks, &mp4.Chunk{DataOffset: uint64(offset)})
		}
	} else if co64 != nil {
		for _, offset := range co64.ChunkOffset {
			chunks = append(chunks, &mp4.Chunk{DataOffset: offset})
		}
	} else {
		return nil, errors.New("stco/co64 box not found")
	}

	if stts == nil {
		return nil, errors.New("stts box not found")
	}
	timing := make(mp4.Samples, 0)
	for _, entry := range stts.Entries {
		for i := uint32(0); i < entry.SampleCount; i++ {
			timing = append(timing, &mp4.Sample{TimeDelta: entry.SampleDelta})
		}
	}

	if stsc == nil {
		return nil, errors.New("stsc box not found")
	}
	for si, entry := range stsc.Entries {
		end := uint32(len(chunks))
		if si != len(stsc.Entries)-1 && stsc.Entries[si+1].FirstChunk-1 < end {
			end = stsc.Entries[si+1].FirstChunk - 1
		}
		for ci := entry.FirstChunk - 1; ci < end; ci++ {
			chunks[ci].SamplesPerChunk = entry.SamplesPerChunk
		}
	}

	if ctts != nil {
		var si uint32
		for ci, entry := range ctts.Entries {
			for i := uint32(0); i < entry.SampleCount; i++ {
				if si >= uint32(len(timing)) {
					break
				}
				timing[si].CompositionTimeOffset = ctts.GetSampleOffset(ci)
				si++
			}
		}
	}

	if stsz == nil {
		return nil, errors.New("stsz box not found")
	}
	for i := range timing {
		if stsz.SampleSize != 0 {
			timing[i].Size = stsz.SampleSize
		} else if i < len(stsz.EntrySize) {
			timing[i].Size = stsz.EntrySize[i]
		}
	}
	track.Timing = timing

	if stss != nil {
		track.SyncSamples = append([]uint32(nil), stss.SampleNumber...)
	}

	samples, err := newSampleReader(data, chunks, timing)
	if err != nil {
		return nil, fmt.Errorf("track %d: %w", track.TrackID, err)
	}
	track.Samples = samples

	return &track, nil
}

// readSampleEntry returns the first entry of the track's stsd as a box tree.
func readSampleEntry(r io.ReadSeeker, trak *mp4.BoxInfo) (*cenc.Box, error) {
	bis, err := mp4.ExtractBox(r, trak, stblPath(mp4.BoxTypeStsd()))
	if err != nil {
		return nil, err
	}
	if len(bis) == 0 {
		return nil, errors.New("stsd box not found")
	}
	val, err := mp4.ReadBoxStructureFromInternal(r, bis[0], cenc.ReadBoxTree)
	if err != nil {
		return nil, fmt.Errorf("failed to read stsd: %w", err)
	}
	stsd, ok := val.(*cenc.Box)
	if !ok || len(stsd.Children) == 0 {
		return nil, errors.New("stsd has no sample entry")
	}
	return stsd.Children[0], nil
}
