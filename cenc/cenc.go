// Package cenc encrypts and decrypts the samples of a track with the Common
// Encryption cenc scheme (AES-128 CTR) and rewrites the track's sample entry
// to carry, or drop, the protection scheme information.
package cenc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type EncryptOptions struct {
	// DummyIV starts the per-sample IVs at zero instead of a random value.
	DummyIV bool
	Logger  *slog.Logger
}

type DecryptOptions struct {
	Logger *slog.Logger
}

// EncryptTrack returns an encrypted view of src. Samples are encrypted on
// access; the aux data and the protected sample entry are computed here.
// Key and sample entry problems are reported before any sample is read.
func EncryptTrack(src *Track, keyID uuid.UUID, key []byte, opts EncryptOptions) (*EncryptedTrack, error) {
	log := loggerOrDefault(opts.Logger).With("track", src.TrackID)

	if _, err := newBlock(key); err != nil {
		return nil, err
	}
	if src.SampleEntry == nil {
		return nil, &ConfigurationError{Op: "encrypt", Err: errors.New("track has no sample entry")}
	}
	entry, err := ProtectSampleEntry(src.SampleEntry, keyID)
	if err != nil {
		return nil, err
	}

	aux, err := GenerateAuxData(src, GenerateOptions{DummyIV: opts.DummyIV, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to generate aux data: %w", err)
	}

	view, err := NewSampleView(Encrypt, src.Samples, aux, key, log)
	if err != nil {
		return nil, err
	}

	subsamples := src.NALLengthSize() > 0
	log.Info("encrypting track", "name", src.Name, "samples", view.Len(), "entry", entry.Type.String(), "subsamples", subsamples)

	return &EncryptedTrack{
		Track:               src.derive("enc("+src.Name+")", entry, view),
		AuxData:             aux,
		KeyID:               keyID,
		SubsampleEncryption: subsamples,
	}, nil
}

// DecryptTrack returns a decrypted view of enc using the aux data it
// carries, and the sample entry restored to its original format.
func DecryptTrack(enc *EncryptedTrack, key []byte, opts DecryptOptions) (*Track, error) {
	log := loggerOrDefault(opts.Logger).With("track", enc.TrackID)

	if _, err := newBlock(key); err != nil {
		return nil, err
	}
	if enc.SampleEntry == nil {
		return nil, &ConfigurationError{Op: "decrypt", Err: errors.New("track has no sample entry")}
	}
	entry, err := UnprotectSampleEntry(enc.SampleEntry)
	if err != nil {
		return nil, err
	}

	view, err := NewSampleView(Decrypt, enc.Samples, enc.AuxData, key, log)
	if err != nil {
		return nil, err
	}

	log.Info("decrypting track", "name", enc.Name, "samples", view.Len(), "entry", entry.Type.String())

	track := enc.derive("dec("+enc.Name+")", entry, view)
	return &track, nil
}
