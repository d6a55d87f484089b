package cenc

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/abema/go-mp4"
	"github.com/google/uuid"
)

var (
	testKey   = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	testKeyID = uuid.MustParse("10000000-1000-1000-1000-100000000001")
	quietLog  = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func mp4aEntry() *Box {
	return &Box{
		Type: mp4.BoxTypeMp4a(),
		Payload: &mp4.AudioSampleEntry{
			SampleEntry: mp4.SampleEntry{
				AnyTypeBox:         mp4.AnyTypeBox{Type: mp4.BoxTypeMp4a()},
				DataReferenceIndex: 1,
			},
			ChannelCount: 2,
			SampleSize:   16,
		},
	}
}

func avcEntry(lengthSize int) *Box {
	return &Box{
		Type: mp4.BoxTypeAvc1(),
		Payload: &mp4.VisualSampleEntry{
			SampleEntry: mp4.SampleEntry{
				AnyTypeBox:         mp4.AnyTypeBox{Type: mp4.BoxTypeAvc1()},
				DataReferenceIndex: 1,
			},
			Width:  640,
			Height: 360,
		},
		Children: []*Box{{
			Type: mp4.BoxTypeAvcC(),
			Payload: &mp4.AVCDecoderConfiguration{
				AnyTypeBox:           mp4.AnyTypeBox{Type: mp4.BoxTypeAvcC()},
				ConfigurationVersion: 1,
				Profile:              66,
				LengthSizeMinusOne:   uint8(lengthSize - 1),
			},
		}},
	}
}

func patterned(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func audioTrack() *Track {
	return &Track{
		TrackID:     2,
		Name:        "audio",
		Handler:     "soun",
		Timescale:   48000,
		SampleEntry: mp4aEntry(),
		Samples:     Samples{patterned(371, 1), patterned(16, 2), {}, patterned(1, 3), patterned(4096, 4)},
	}
}

func videoTrack() *Track {
	return &Track{
		TrackID:     1,
		Name:        "video",
		Handler:     "vide",
		Timescale:   90000,
		SampleEntry: avcEntry(4),
		Samples: Samples{
			nal(4, 10, 0x06),
			nal(4, 150, 0x65),
			nal(4, 5, 0x0c),
			concat(nal(4, 10, 0x67), nal(4, 4, 0x68), nal(4, 700, 0x65)),
			{},
		},
		SyncSamples: []uint32{2, 4},
	}
}

func ctrReference(iv [8]byte, data []byte) []byte {
	block, err := aes.NewCipher(testKey)
	if err != nil {
		panic(err)
	}
	full := make([]byte, 16)
	copy(full, iv[:])
	out := make([]byte, len(data))
	cipher.NewCTR(block, full).XORKeyStream(out, data)
	return out
}

func mustMaterialize(t *testing.T, src SampleSource) [][]byte {
	t.Helper()
	samples, err := Materialize(context.Background(), src, 3)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	return samples
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		track *Track
		entry mp4.BoxType
		sub   bool
	}{
		{name: "whole sample audio", track: audioTrack(), entry: mp4.BoxTypeEnca()},
		{name: "partitioned video", track: videoTrack(), entry: mp4.BoxTypeEncv(), sub: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := mustMaterialize(t, tt.track.Samples)

			enc, err := EncryptTrack(tt.track, testKeyID, testKey, EncryptOptions{Logger: quietLog})
			if err != nil {
				t.Fatalf("EncryptTrack() error = %v", err)
			}
			if enc.SampleEntry.Type != tt.entry {
				t.Errorf("encrypted entry type = %s, want %s", enc.SampleEntry.Type, tt.entry)
			}
			if enc.SubsampleEncryption != tt.sub {
				t.Errorf("SubsampleEncryption = %v, want %v", enc.SubsampleEncryption, tt.sub)
			}
			if enc.Name != "enc("+tt.track.Name+")" {
				t.Errorf("encrypted name = %q", enc.Name)
			}
			if len(enc.AuxData) != len(plain) {
				t.Fatalf("got %d aux records for %d samples", len(enc.AuxData), len(plain))
			}

			encrypted := mustMaterialize(t, enc.Samples)
			for i := range plain {
				if len(encrypted[i]) != len(plain[i]) {
					t.Errorf("sample %d: encrypted size %d, want %d", i, len(encrypted[i]), len(plain[i]))
				}
			}

			dec, err := DecryptTrack(enc, testKey, DecryptOptions{Logger: quietLog})
			if err != nil {
				t.Fatalf("DecryptTrack() error = %v", err)
			}
			if dec.SampleEntry.Type != tt.track.SampleEntry.Type {
				t.Errorf("decrypted entry type = %s, want %s", dec.SampleEntry.Type, tt.track.SampleEntry.Type)
			}
			if dec.Name != "dec(enc("+tt.track.Name+"))" {
				t.Errorf("decrypted name = %q", dec.Name)
			}
			if dec.TrackID != tt.track.TrackID || dec.Timescale != tt.track.Timescale || dec.Handler != tt.track.Handler {
				t.Errorf("metadata not carried through: %+v", dec)
			}

			decrypted := mustMaterialize(t, dec.Samples)
			for i := range plain {
				if !bytes.Equal(decrypted[i], plain[i]) {
					t.Errorf("sample %d does not round trip", i)
				}
			}
		})
	}
}

func TestEncryptWholeSampleMatchesCTR(t *testing.T) {
	track := audioTrack()
	enc, err := EncryptTrack(track, testKeyID, testKey, EncryptOptions{DummyIV: true, Logger: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < track.Samples.Len(); i++ {
		if enc.AuxData[i].Mode != WholeSample {
			t.Errorf("sample %d: mode = %v, want whole-sample", i, enc.AuxData[i].Mode)
		}
		plain, _ := track.Samples.Sample(i)
		got, err := enc.Samples.Sample(i)
		if err != nil {
			t.Fatal(err)
		}
		if want := ctrReference(enc.AuxData[i].IV, plain); !bytes.Equal(got, want) {
			t.Errorf("sample %d does not match AES-CTR of the whole sample", i)
		}
	}
}

func TestEncryptPartitionedKeystreamIsContinuous(t *testing.T) {
	track := videoTrack()
	track.Samples = Samples{concat(nal(4, 150, 0x65), nal(4, 20, 0x06), nal(4, 300, 0x41))}

	enc, err := EncryptTrack(track, testKeyID, testKey, EncryptOptions{DummyIV: true, Logger: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	aux := enc.AuxData[0]
	wantPairs := []SubsamplePair{{Clear: 106, Encrypted: 48}, {Clear: 24}, {Clear: 96, Encrypted: 208}}
	if len(aux.Pairs) != len(wantPairs) {
		t.Fatalf("pairs = %v, want %v", aux.Pairs, wantPairs)
	}
	for i := range wantPairs {
		if aux.Pairs[i] != wantPairs[i] {
			t.Fatalf("pairs = %v, want %v", aux.Pairs, wantPairs)
		}
	}

	plain, _ := track.Samples.Sample(0)
	got, err := enc.Samples.Sample(0)
	if err != nil {
		t.Fatal(err)
	}

	// the encrypted spans, joined, are one CTR run
	var protected []byte
	var pos int
	for _, p := range aux.Pairs {
		if !bytes.Equal(got[pos:pos+int(p.Clear)], plain[pos:pos+int(p.Clear)]) {
			t.Errorf("clear span at %d was modified", pos)
		}
		pos += int(p.Clear)
		protected = append(protected, plain[pos:pos+int(p.Encrypted)]...)
		pos += int(p.Encrypted)
	}
	want := ctrReference(aux.IV, protected)

	pos = 0
	var off int
	for _, p := range aux.Pairs {
		pos += int(p.Clear)
		if !bytes.Equal(got[pos:pos+int(p.Encrypted)], want[off:off+int(p.Encrypted)]) {
			t.Errorf("encrypted span at %d does not continue the keystream", pos)
		}
		pos += int(p.Encrypted)
		off += int(p.Encrypted)
	}
}

func TestThreeSampleAVCTrack(t *testing.T) {
	track := videoTrack()
	track.Samples = Samples{nal(4, 10, 0x06), nal(4, 150, 0x65), nal(4, 5, 0x0c)}

	enc, err := EncryptTrack(track, testKeyID, testKey, EncryptOptions{DummyIV: true, Logger: quietLog})
	if err != nil {
		t.Fatal(err)
	}

	wantPairs := [][]SubsamplePair{{{Clear: 14}}, {{Clear: 106, Encrypted: 48}}, {{Clear: 9}}}
	for i, aux := range enc.AuxData {
		if aux.Mode != Partitioned {
			t.Errorf("sample %d: mode = %v, want partitioned", i, aux.Mode)
		}
		if want := (IVCounter{}).At(i); aux.IV != want {
			t.Errorf("sample %d: IV = %x, want %x", i, aux.IV, want)
		}
		if len(aux.Pairs) != 1 || aux.Pairs[0] != wantPairs[i][0] {
			t.Errorf("sample %d: pairs = %v, want %v", i, aux.Pairs, wantPairs[i])
		}
	}

	// samples without an encrypted span come out unchanged
	for _, i := range []int{0, 2} {
		plain, _ := track.Samples.Sample(i)
		got, err := enc.Samples.Sample(i)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("sample %d was modified", i)
		}
	}
}

func TestEncryptTrackErrors(t *testing.T) {
	t.Run("short key", func(t *testing.T) {
		_, err := EncryptTrack(audioTrack(), testKeyID, testKey[:15], EncryptOptions{Logger: quietLog})
		var cryptoErr *CryptoError
		if !errors.As(err, &cryptoErr) || !errors.Is(err, ErrKeySize) {
			t.Errorf("error = %v, want CryptoError wrapping ErrKeySize", err)
		}
	})

	t.Run("unknown sample entry", func(t *testing.T) {
		track := audioTrack()
		track.SampleEntry = &Box{Type: mp4.StrToBoxType("stpp"), Raw: []byte{0, 0, 0, 0, 0, 0, 0, 1}}
		_, err := EncryptTrack(track, testKeyID, testKey, EncryptOptions{Logger: quietLog})
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) || !errors.Is(err, ErrUnknownSampleEntry) {
			t.Errorf("error = %v, want ConfigurationError wrapping ErrUnknownSampleEntry", err)
		}
	})

	t.Run("already protected", func(t *testing.T) {
		enc, err := EncryptTrack(audioTrack(), testKeyID, testKey, EncryptOptions{Logger: quietLog})
		if err != nil {
			t.Fatal(err)
		}
		_, err = EncryptTrack(&enc.Track, testKeyID, testKey, EncryptOptions{Logger: quietLog})
		if !errors.Is(err, ErrAlreadyProtected) {
			t.Errorf("error = %v, want ErrAlreadyProtected", err)
		}
	})

	t.Run("no sample entry", func(t *testing.T) {
		track := audioTrack()
		track.SampleEntry = nil
		_, err := EncryptTrack(track, testKeyID, testKey, EncryptOptions{Logger: quietLog})
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Errorf("error = %v, want ConfigurationError", err)
		}
	})
}

func TestDecryptTrackErrors(t *testing.T) {
	t.Run("aux count mismatch", func(t *testing.T) {
		enc, err := EncryptTrack(audioTrack(), testKeyID, testKey, EncryptOptions{Logger: quietLog})
		if err != nil {
			t.Fatal(err)
		}
		enc.AuxData = enc.AuxData[:2]
		_, err = DecryptTrack(enc, testKey, DecryptOptions{Logger: quietLog})
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) || !errors.Is(err, ErrAuxDataMismatch) {
			t.Errorf("error = %v, want ConfigurationError wrapping ErrAuxDataMismatch", err)
		}
	})

	t.Run("not protected", func(t *testing.T) {
		enc := &EncryptedTrack{Track: *audioTrack()}
		_, err := DecryptTrack(enc, testKey, DecryptOptions{Logger: quietLog})
		if !errors.Is(err, ErrNotProtected) {
			t.Errorf("error = %v, want ErrNotProtected", err)
		}
	})

	t.Run("long key", func(t *testing.T) {
		enc, err := EncryptTrack(audioTrack(), testKeyID, testKey, EncryptOptions{Logger: quietLog})
		if err != nil {
			t.Fatal(err)
		}
		_, err = DecryptTrack(enc, append(testKey, 0), DecryptOptions{Logger: quietLog})
		var cryptoErr *CryptoError
		if !errors.As(err, &cryptoErr) {
			t.Errorf("error = %v, want CryptoError", err)
		}
	})
}

func TestEncryptTrackLeavesSourceUntouched(t *testing.T) {
	track := videoTrack()
	before, err := track.SampleEntry.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	plain := mustMaterialize(t, track.Samples)
	children := len(track.SampleEntry.Children)

	enc, err := EncryptTrack(track, testKeyID, testKey, EncryptOptions{Logger: quietLog})
	if err != nil {
		t.Fatal(err)
	}
	mustMaterialize(t, enc.Samples)

	after, err := track.SampleEntry.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) || len(track.SampleEntry.Children) != children {
		t.Error("source sample entry was modified")
	}
	for i, s := range mustMaterialize(t, track.Samples) {
		if !bytes.Equal(s, plain[i]) {
			t.Errorf("source sample %d was modified", i)
		}
	}
	if track.SampleEntry.Type != mp4.BoxTypeAvc1() {
		t.Errorf("source entry type = %s", track.SampleEntry.Type)
	}
}

func TestDivideTimescale(t *testing.T) {
	track := videoTrack()
	track.Timing = mp4.Samples{
		{Size: 14, TimeDelta: 3000, CompositionTimeOffset: 6000},
		{Size: 154, TimeDelta: 3000, CompositionTimeOffset: -3000},
		{Size: 9, TimeDelta: 3003},
	}
	track.Duration = 9003

	scaled, err := DivideTimescale(track, 3)
	if err != nil {
		t.Fatal(err)
	}
	if scaled.Timescale != 30000 {
		t.Errorf("Timescale = %d, want 30000", scaled.Timescale)
	}
	if scaled.Name != "timescale(video)" {
		t.Errorf("Name = %q", scaled.Name)
	}
	wantDeltas := []uint32{1000, 1000, 1001}
	wantOffsets := []int64{2000, -1000, 0}
	for i, s := range scaled.Timing {
		if s.TimeDelta != wantDeltas[i] || s.CompositionTimeOffset != wantOffsets[i] || s.Size != track.Timing[i].Size {
			t.Errorf("sample %d = %+v", i, *s)
		}
	}
	if scaled.Duration != 3001 {
		t.Errorf("Duration = %d, want 3001", scaled.Duration)
	}
	if track.Timing[0].TimeDelta != 3000 {
		t.Error("source timing was modified")
	}
	if scaled.SampleEntry != track.SampleEntry || scaled.Samples.Len() != track.Samples.Len() {
		t.Error("samples and sample entry should pass through")
	}

	if _, err := DivideTimescale(track, 0); err == nil {
		t.Error("expected an error for a zero divisor")
	}
}
