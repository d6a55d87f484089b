package cenc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mattetti/cenctrack/internal/bitio"
)

type NALType byte

const (
	NAL_SLICE      NALType = 1
	NAL_DPA        NALType = 2
	NAL_DPB        NALType = 3
	NAL_DPC        NALType = 4
	NAL_IDR_SLICE  NALType = 5
	NAL_SEI        NALType = 6
	NAL_SPS        NALType = 7
	NAL_PPS        NALType = 8
	NAL_AUD        NALType = 9
	NAL_END_SEQ    NALType = 10
	NAL_END_STREAM NALType = 11
	NAL_FILLER     NALType = 12
	NAL_SPS_EXT    NALType = 13
	NAL_PREFIX     NALType = 14
	NAL_SUBSET_SPS NALType = 15
	NAL_DEPTH_SPS  NALType = 16
	NAL_AUX_SLICE  NALType = 19
)

func (t NALType) String() string {
	switch t {
	case NAL_SLICE:
		return "non-IDR slice"
	case NAL_DPA:
		return "data partition A"
	case NAL_DPB:
		return "data partition B"
	case NAL_DPC:
		return "data partition C"
	case NAL_IDR_SLICE:
		return "IDR slice"
	case NAL_SEI:
		return "SEI"
	case NAL_SPS:
		return "sequence parameter set"
	case NAL_PPS:
		return "picture parameter set"
	case NAL_AUD:
		return "access unit delimiter"
	case NAL_END_SEQ:
		return "end of sequence"
	case NAL_END_STREAM:
		return "end of stream"
	case NAL_FILLER:
		return "filler data"
	case NAL_SPS_EXT:
		return "sequence parameter set extension"
	case NAL_PREFIX:
		return "prefix NAL unit"
	case NAL_SUBSET_SPS:
		return "subset sequence parameter set"
	case NAL_DEPTH_SPS:
		return "depth parameter set"
	case NAL_AUX_SLICE:
		return "auxiliary slice"
	default:
		return fmt.Sprintf("NAL type %d", byte(t))
	}
}

// NALUnit is one length-prefixed NAL unit inside a sample.
type NALUnit struct {
	Type       NALType
	RefIdc     uint8
	Offset     int    // of the length prefix, from the start of the sample
	PrefixSize int    // width of the length prefix
	Length     uint32 // of the NAL unit data, clamped to the sample
	Truncated  bool   // declared length ran past the end of the sample
}

// GrossSize is the NAL unit size including its length prefix.
func (n NALUnit) GrossSize() uint32 {
	return n.Length + uint32(n.PrefixSize)
}

type NALHeader struct {
	ForbiddenZeroBit uint32
	NalRefIdc        uint32
	NalUnitType      uint32
}

// ParseNALHeader decodes the one byte header at the start of NAL unit data.
func ParseNALHeader(b byte) (NALHeader, error) {
	var header NALHeader
	br := bitio.NewReader(bytes.NewReader([]byte{b}))

	var err error
	// forbidden_zero_bit  f(1)
	header.ForbiddenZeroBit, err = br.ReadUInt(1)
	if err != nil {
		return header, fmt.Errorf("failed to read forbidden_zero_bit: %w", err)
	}
	// nal_ref_idc u(2)
	header.NalRefIdc, err = br.ReadUInt(2)
	if err != nil {
		return header, fmt.Errorf("failed to read nal_ref_idc: %w", err)
	}
	// nal_unit_type u(5)
	header.NalUnitType, err = br.ReadUInt(5)
	if err != nil {
		return header, fmt.Errorf("failed to read nal_unit_type: %w", err)
	}
	return header, nil
}

// ScanNALUnits walks the length-prefixed NAL units of a sample.
//
// A unit whose declared length runs past the end of the sample is clamped
// to it. Trailing bytes too short to hold a length prefix belong to no unit;
// Partition covers them with a final clear pair. Both cases are reported
// with a *DataIntegrityWarning next to the units.
func ScanNALUnits(sample []byte, lengthSize int) ([]NALUnit, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, ErrInvalidLengthSize
	}

	r := bytes.NewReader(sample)
	br := bitio.NewReader(r)

	var units []NALUnit
	var warning error
	for pos := 0; pos < len(sample); {
		remaining := len(sample) - pos
		if remaining < lengthSize {
			warning = &DataIntegrityWarning{Sample: -1, Remaining: remaining, Reason: "trailing bytes shorter than a NAL length prefix"}
			break
		}

		if _, err := r.Seek(int64(pos), io.SeekStart); err != nil {
			return units, err
		}
		length, err := br.ReadBytesBE(lengthSize)
		if err != nil {
			return units, fmt.Errorf("failed to read NAL length at offset %d: %w", pos, err)
		}

		unit := NALUnit{Offset: pos, PrefixSize: lengthSize, Length: length}
		if body := remaining - lengthSize; uint64(length) > uint64(body) {
			warning = &DataIntegrityWarning{Sample: -1, Remaining: int(uint64(length) - uint64(body)), Reason: "NAL unit length exceeds sample"}
			unit.Length = uint32(body)
			unit.Truncated = true
		}
		if unit.Length > 0 {
			header, err := ParseNALHeader(sample[pos+lengthSize])
			if err != nil {
				return units, err
			}
			unit.Type = NALType(header.NalUnitType)
			unit.RefIdc = uint8(header.NalRefIdc)
		}

		units = append(units, unit)
		pos += int(unit.GrossSize())
	}

	return units, warning
}
