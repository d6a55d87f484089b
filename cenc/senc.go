package cenc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
)

// MarshalAuxRecord encodes one sample's auxiliary information: the IV and,
// for partitioned samples, a 16-bit pair count followed by 16-bit clear and
// 32-bit encrypted byte counts, all big-endian.
func MarshalAuxRecord(a AuxData) ([]byte, error) {
	if a.Mode != Partitioned {
		return append([]byte(nil), a.IV[:]...), nil
	}
	if len(a.Pairs) > math.MaxUint16 {
		return nil, fmt.Errorf("too many subsample pairs: %d", len(a.Pairs))
	}

	b := make([]byte, 8+2+6*len(a.Pairs))
	copy(b, a.IV[:])
	binary.BigEndian.PutUint16(b[8:], uint16(len(a.Pairs)))
	pos := 10
	for _, p := range a.Pairs {
		if p.Clear > math.MaxUint16 {
			return nil, fmt.Errorf("clear byte count %d does not fit 16 bits", p.Clear)
		}
		binary.BigEndian.PutUint16(b[pos:], uint16(p.Clear))
		binary.BigEndian.PutUint32(b[pos+2:], p.Encrypted)
		pos += 6
	}
	return b, nil
}

// UnmarshalAuxRecord decodes a record written by MarshalAuxRecord and
// returns the number of bytes it used.
func UnmarshalAuxRecord(b []byte, subsamples bool) (AuxData, int, error) {
	var a AuxData
	if len(b) < 8 {
		return a, 0, io.ErrUnexpectedEOF
	}
	copy(a.IV[:], b)
	if !subsamples {
		return a, 8, nil
	}

	if len(b) < 10 {
		return a, 0, io.ErrUnexpectedEOF
	}
	count := int(binary.BigEndian.Uint16(b[8:]))
	end := 10 + 6*count
	if len(b) < end {
		return a, 0, io.ErrUnexpectedEOF
	}
	a.Mode = Partitioned
	a.Pairs = make([]SubsamplePair, count)
	for i := range a.Pairs {
		pos := 10 + 6*i
		a.Pairs[i] = SubsamplePair{
			Clear:     uint32(binary.BigEndian.Uint16(b[pos:])),
			Encrypted: binary.BigEndian.Uint32(b[pos+2:]),
		}
	}
	return a, end, nil
}

// NewSencBox builds the sample encryption box for a run of samples. All
// records must use the same mode.
func NewSencBox(aux []AuxData) (*mp4ff.SencBox, error) {
	senc := mp4ff.CreateSencBox()
	for i, a := range aux {
		if i > 0 && a.Mode != aux[0].Mode {
			return nil, fmt.Errorf("sample %d: %w", i, ErrMixedModes)
		}
		sample := mp4ff.SencSample{IV: mp4ff.InitializationVector(append([]byte(nil), a.IV[:]...))}
		if a.Mode == Partitioned {
			// an empty pattern list would drop the sample from the subsample table
			pairs := a.Pairs
			if len(pairs) == 0 {
				pairs = []SubsamplePair{{}}
			}
			sample.SubSamples = make([]mp4ff.SubSamplePattern, len(pairs))
			for j, p := range pairs {
				if p.Clear > math.MaxUint16 {
					return nil, fmt.Errorf("sample %d: clear byte count %d does not fit 16 bits", i, p.Clear)
				}
				sample.SubSamples[j] = mp4ff.SubSamplePattern{
					BytesOfClearData:     uint16(p.Clear),
					BytesOfProtectedData: p.Encrypted,
				}
			}
		}
		if err := senc.AddSample(sample); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return senc, nil
}

// AuxDataFromSenc reads the per-sample records of a parsed senc box, such
// as one built by NewSencBox or returned by DecodeSenc.
func AuxDataFromSenc(senc *mp4ff.SencBox) ([]AuxData, error) {
	n := int(senc.SampleCount)
	if len(senc.IVs) != n {
		return nil, fmt.Errorf("senc has %d IVs for %d samples", len(senc.IVs), n)
	}
	subsamples := len(senc.SubSamples) > 0
	if subsamples && len(senc.SubSamples) != n {
		return nil, fmt.Errorf("senc has %d subsample entries for %d samples", len(senc.SubSamples), n)
	}

	aux := make([]AuxData, n)
	for i := range aux {
		if len(senc.IVs[i]) != DefaultIVSize {
			return nil, fmt.Errorf("sample %d: IV is %d bytes, want %d", i, len(senc.IVs[i]), DefaultIVSize)
		}
		var iv [8]byte
		copy(iv[:], senc.IVs[i])
		if !subsamples {
			aux[i] = WholeSampleAux(iv)
			continue
		}
		pairs := make([]SubsamplePair, len(senc.SubSamples[i]))
		for j, ss := range senc.SubSamples[i] {
			pairs[j] = SubsamplePair{Clear: uint32(ss.BytesOfClearData), Encrypted: ss.BytesOfProtectedData}
		}
		aux[i] = PartitionedAux(iv, pairs)
	}
	return aux, nil
}

// EncodeSenc writes aux as a complete senc box.
func EncodeSenc(w io.Writer, aux []AuxData) error {
	senc, err := NewSencBox(aux)
	if err != nil {
		return err
	}
	return senc.Encode(w)
}

// DecodeSenc reads a senc box from r.
func DecodeSenc(r io.Reader) ([]AuxData, error) {
	box, err := mp4ff.DecodeBox(0, r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode box: %w", err)
	}
	senc, ok := box.(*mp4ff.SencBox)
	if !ok {
		return nil, fmt.Errorf("expected senc box, got %s", box.Type())
	}
	// decoding leaves the records unparsed until the IV size is known
	if err := senc.ParseReadBox(DefaultIVSize, nil); err != nil {
		return nil, fmt.Errorf("failed to parse senc: %w", err)
	}
	return AuxDataFromSenc(senc)
}
