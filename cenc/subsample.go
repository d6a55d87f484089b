package cenc

const (
	// NAL units smaller than this stay entirely in the clear.
	minProtectedNALSize = 112
	// Clear header kept at the start of a protected NAL unit, before the
	// remainder is aligned to the AES block size.
	clearNALHeaderSize = 96
)

// SubsamplePair is one clear span followed by one encrypted span.
type SubsamplePair struct {
	Clear     uint32
	Encrypted uint32
}

// Size is the number of sample bytes the pair covers.
func (p SubsamplePair) Size() uint64 {
	return uint64(p.Clear) + uint64(p.Encrypted)
}

// Partition splits a sample of length-prefixed NAL units into clear and
// encrypted spans, one pair per NAL unit.
//
// The pairs always cover the whole sample. If the sample is malformed the
// pairs are returned together with a *DataIntegrityWarning.
func Partition(sample []byte, lengthSize int) ([]SubsamplePair, error) {
	units, warning := ScanNALUnits(sample, lengthSize)
	if warning != nil && !IsWarning(warning) {
		return nil, warning
	}

	pairs := make([]SubsamplePair, 0, len(units)+1)
	var covered int
	for _, unit := range units {
		pairs = append(pairs, partitionNAL(unit.GrossSize()))
		covered += int(unit.GrossSize())
	}
	if trailing := len(sample) - covered; trailing > 0 {
		pairs = append(pairs, SubsamplePair{Clear: uint32(trailing)})
	}
	return pairs, warning
}

func partitionNAL(gross uint32) SubsamplePair {
	clearBytes := gross
	if gross >= minProtectedNALSize {
		clearBytes = clearNALHeaderSize + gross%16
	}
	return SubsamplePair{Clear: clearBytes, Encrypted: gross - clearBytes}
}
