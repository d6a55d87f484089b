package cenc

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSampleEntry = errors.New("sample entry is neither audio nor visual")
	ErrUnsupportedScheme  = errors.New("protection scheme is not cenc")
	ErrNotProtected       = errors.New("sample entry carries no protection scheme information")
	ErrAlreadyProtected   = errors.New("sample entry is already protected")
	ErrAuxDataMismatch    = errors.New("aux data count does not match sample count")
	ErrKeySize            = errors.New("content key must be 16 bytes")
	ErrSubsampleOverrun   = errors.New("subsample pairs run past the end of the sample")
	ErrInvalidLengthSize  = errors.New("NAL length size must be between 1 and 4")
	ErrMixedModes         = errors.New("aux data mixes whole-sample and partitioned records")
)

// ConfigurationError aborts a whole track transform.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cenc: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CryptoError is returned when the cipher primitive rejects the key or IV.
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("cenc: crypto: %v", e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// DataIntegrityWarning reports bytes of a sample that were not covered by
// its NAL units or subsample pairs. It is not fatal: the value that comes
// with it is still usable.
type DataIntegrityWarning struct {
	Sample    int
	Remaining int
	Reason    string
}

func (w *DataIntegrityWarning) Error() string {
	if w.Sample < 0 {
		return fmt.Sprintf("cenc: %s: %d bytes remaining", w.Reason, w.Remaining)
	}
	return fmt.Sprintf("cenc: sample %d: %s: %d bytes remaining", w.Sample, w.Reason, w.Remaining)
}

// IsWarning reports whether err is only a DataIntegrityWarning.
func IsWarning(err error) bool {
	var w *DataIntegrityWarning
	return errors.As(err, &w)
}
