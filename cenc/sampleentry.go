package cenc

import (
	"bytes"
	"fmt"

	"github.com/abema/go-mp4"
	"github.com/google/uuid"
)

const (
	SchemeCENC          = "cenc"
	SchemeVersion       = 0x00010000
	DefaultIVSize       = 8
	DefaultAlgorithmCTR = 1
)

// ProtectionMetadata is what the sinf box of a protected sample entry says.
type ProtectionMetadata struct {
	SchemeType         string
	SchemeVersion      uint32
	OriginalFormat     mp4.BoxType
	DefaultIVSize      uint8
	DefaultAlgorithmID uint8
	KeyID              uuid.UUID
}

type entryKind int

const (
	unknownEntry entryKind = iota
	audioEntry
	visualEntry
)

// copyEntryPayload returns a copy of a sample entry payload that can be
// retyped without touching the original.
func copyEntryPayload(p mp4.IBox) (mp4.IBox, entryKind) {
	switch e := p.(type) {
	case *mp4.AudioSampleEntry:
		c := *e
		c.QuickTimeData = bytes.Clone(e.QuickTimeData)
		return &c, audioEntry
	case *mp4.VisualSampleEntry:
		c := *e
		return &c, visualEntry
	default:
		return nil, unknownEntry
	}
}

func setEntryType(p mp4.IBox, t mp4.BoxType) {
	switch e := p.(type) {
	case *mp4.AudioSampleEntry:
		e.SetType(t)
	case *mp4.VisualSampleEntry:
		e.SetType(t)
	}
}

func isProtectedType(t mp4.BoxType) bool {
	return t == mp4.BoxTypeEnca() || t == mp4.BoxTypeEncv()
}

// ProtectSampleEntry returns a new sample entry marked as cenc protected:
// its type becomes enca or encv and a sinf box recording the original
// format, the scheme and the key id is appended. entry is not modified.
func ProtectSampleEntry(entry *Box, keyID uuid.UUID) (*Box, error) {
	const op = "protect sample entry"

	if isProtectedType(entry.Type) || entry.Child(mp4.BoxTypeSinf()) != nil {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: %s", ErrAlreadyProtected, entry.Type)}
	}
	payload, kind := copyEntryPayload(entry.Payload)

	var obscured mp4.BoxType
	switch kind {
	case audioEntry:
		obscured = mp4.BoxTypeEnca()
	case visualEntry:
		obscured = mp4.BoxTypeEncv()
	default:
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: %s", ErrUnknownSampleEntry, entry.Type)}
	}
	setEntryType(payload, obscured)

	sinf := NewBox(&mp4.Sinf{},
		NewBox(&mp4.Frma{DataFormat: entry.Type}),
		NewBox(&mp4.Schm{
			SchemeType:    [4]byte{'c', 'e', 'n', 'c'},
			SchemeVersion: SchemeVersion,
		}),
		NewBox(&mp4.Schi{},
			NewBox(&mp4.Tenc{
				DefaultIsProtected:     DefaultAlgorithmCTR,
				DefaultPerSampleIVSize: DefaultIVSize,
				DefaultKID:             [16]byte(keyID),
			}),
		),
	)

	children := make([]*Box, 0, len(entry.Children)+1)
	children = append(children, entry.Children...)
	children = append(children, sinf)

	return &Box{
		Type:     obscured,
		Payload:  payload,
		Context:  entry.Context,
		Children: children,
	}, nil
}

// UnprotectSampleEntry reverses ProtectSampleEntry. It only accepts entries
// protected with the cenc scheme. entry is not modified.
func UnprotectSampleEntry(entry *Box) (*Box, error) {
	const op = "unprotect sample entry"

	meta, err := ReadProtection(entry)
	if err != nil {
		return nil, err
	}
	if meta.SchemeType != SchemeCENC {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, meta.SchemeType)}
	}

	payload, kind := copyEntryPayload(entry.Payload)
	if kind == unknownEntry {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: %s", ErrUnknownSampleEntry, entry.Type)}
	}
	setEntryType(payload, meta.OriginalFormat)

	var children []*Box
	for _, c := range entry.Children {
		if c.Type != mp4.BoxTypeSinf() {
			children = append(children, c)
		}
	}

	return &Box{
		Type:     meta.OriginalFormat,
		Payload:  payload,
		Context:  entry.Context,
		Children: children,
	}, nil
}

// ReadProtection extracts the protection metadata of a sample entry. The
// tenc fields are left zero when the scheme carries no tenc box.
func ReadProtection(entry *Box) (*ProtectionMetadata, error) {
	const op = "read protection"

	sinf := entry.Child(mp4.BoxTypeSinf())
	if sinf == nil {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: no sinf in %s", ErrNotProtected, entry.Type)}
	}
	schmBox := sinf.Child(mp4.BoxTypeSchm())
	if schmBox == nil {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: no schm in sinf", ErrNotProtected)}
	}
	schm, ok := schmBox.Payload.(*mp4.Schm)
	if !ok {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: undecodable schm", ErrNotProtected)}
	}
	meta := &ProtectionMetadata{
		SchemeType:    string(schm.SchemeType[:]),
		SchemeVersion: schm.SchemeVersion,
	}
	frmaBox := sinf.Child(mp4.BoxTypeFrma())
	if frmaBox == nil {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: no frma in sinf", ErrNotProtected)}
	}
	frma, ok := frmaBox.Payload.(*mp4.Frma)
	if !ok {
		return nil, &ConfigurationError{Op: op, Err: fmt.Errorf("%w: undecodable frma", ErrNotProtected)}
	}
	meta.OriginalFormat = frma.DataFormat

	if tencBox := sinf.Find(mp4.BoxTypeSchi(), mp4.BoxTypeTenc()); tencBox != nil {
		if tenc, ok := tencBox.Payload.(*mp4.Tenc); ok {
			meta.DefaultIVSize = tenc.DefaultPerSampleIVSize
			meta.DefaultAlgorithmID = tenc.DefaultIsProtected
			meta.KeyID = uuid.UUID(tenc.DefaultKID)
		}
	}
	return meta, nil
}
