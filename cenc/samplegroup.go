package cenc

import (
	"fmt"
)

// Sample group entry types of the NAL unit file format.
const (
	SyncSampleGroupType = "sync"
	StsaSampleGroupType = "stsa"
)

// SyncSampleEntry marks samples of a sync sample group and records the
// NAL unit type that makes them sync samples.
type SyncSampleEntry struct {
	Reserved    uint8 // 2 bits
	NALUnitType uint8 // 6 bits
}

func (e SyncSampleEntry) Type() string { return SyncSampleGroupType }

func (e SyncSampleEntry) Encode() []byte {
	return []byte{e.Reserved<<6 | e.NALUnitType&0x3f}
}

func DecodeSyncSampleEntry(b []byte) (SyncSampleEntry, error) {
	if len(b) != 1 {
		return SyncSampleEntry{}, fmt.Errorf("sync sample group entry must be 1 byte, got %d", len(b))
	}
	return SyncSampleEntry{Reserved: b[0] >> 6, NALUnitType: b[0] & 0x3f}, nil
}

// StepwiseTemporalLayerEntry marks step-wise temporal sub-layer access
// samples. It has no payload.
type StepwiseTemporalLayerEntry struct{}

func (StepwiseTemporalLayerEntry) Type() string { return StsaSampleGroupType }

func (StepwiseTemporalLayerEntry) Encode() []byte { return []byte{} }

func DecodeStepwiseTemporalLayerEntry(b []byte) (StepwiseTemporalLayerEntry, error) {
	if len(b) != 0 {
		return StepwiseTemporalLayerEntry{}, fmt.Errorf("stsa sample group entry must be empty, got %d bytes", len(b))
	}
	return StepwiseTemporalLayerEntry{}, nil
}

// SyncSampleEntryFor returns the sync entry for a sample that contains an
// IDR slice. ok is false when none of its NAL units is one.
func SyncSampleEntryFor(sample []byte, lengthSize int) (entry SyncSampleEntry, ok bool, err error) {
	units, err := ScanNALUnits(sample, lengthSize)
	if err != nil && !IsWarning(err) {
		return SyncSampleEntry{}, false, err
	}
	for _, unit := range units {
		if unit.Type == NAL_IDR_SLICE {
			return SyncSampleEntry{NALUnitType: uint8(unit.Type)}, true, nil
		}
	}
	return SyncSampleEntry{}, false, nil
}
