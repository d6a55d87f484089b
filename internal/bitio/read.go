package bitio

import (
	"errors"
	"io"
)

var (
	ErrInvalidAlignment  = errors.New("bitio: invalid alignment")
	ErrDiscouragedReader = errors.New("bitio: reader returned no data")
	ErrWidth             = errors.New("bitio: width out of range")
)

type Reader interface {
	ReadBit() (bit bool, err error)

	// ReadUInt reads n bits (at most 32) and returns an unsigned integer
	ReadUInt(n int) (uint32, error)

	// ReadBytesBE reads n whole bytes (at most 4) as a big-endian integer.
	// The reader must be byte aligned.
	ReadBytesBE(n int) (uint32, error)
}

type reader struct {
	reader io.Reader
	octet  byte
	width  uint
}

func NewReader(r io.Reader) Reader {
	return &reader{reader: r}
}

func (r *reader) ReadBit() (bool, error) {
	if r.width == 0 {
		buf := make([]byte, 1)
		if n, err := r.reader.Read(buf); err != nil {
			return false, err
		} else if n != 1 {
			return false, ErrDiscouragedReader
		}
		r.octet = buf[0]
		r.width = 8
	}

	r.width--
	return (r.octet>>r.width)&0x01 != 0, nil
}

// ReadUInt reads n bits and returns an unsigned integer
func (r *reader) ReadUInt(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, ErrWidth
	}
	var result uint32
	for i := 0; i < n; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			result |= 1 << (n - i - 1)
		}
	}
	return result, nil
}

func (r *reader) ReadBytesBE(n int) (uint32, error) {
	if n < 1 || n > 4 {
		return 0, ErrWidth
	}
	if r.width != 0 {
		return 0, ErrInvalidAlignment
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range buf {
		v = v<<8 | uint32(b)
	}
	return v, nil
}
