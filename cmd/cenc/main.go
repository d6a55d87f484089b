package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/mattetti/cenctrack/cenc"
	"github.com/mattetti/cenctrack/internal/config"
	"github.com/mattetti/cenctrack/internal/logging"
	"github.com/mattetti/cenctrack/mp4src"
	"github.com/sunfish-shogi/bufseekio"
)

var (
	configFlag  = flag.String("config", "", "YAML file with key_id, key and settings")
	inputFlag   = flag.String("input", "", "Input MP4 file")
	trackFlag   = flag.Uint("track", 0, "Track ID to process, 0 picks the first track")
	modeFlag    = flag.String("mode", "encrypt", "encrypt or decrypt")
	outFlag     = flag.String("out", "", "Output file for the concatenated samples")
	sencFlag    = flag.String("senc", "", "senc box written when encrypting, read when decrypting")
	entryFlag   = flag.String("entry", "", "Output file for the rewritten sample entry")
	keyFlag     = flag.String("key", "", "Hex content key, overrides the config file")
	keyIDFlag   = flag.String("key-id", "", "Key ID, overrides the config file")
	workersFlag = flag.Int("workers", -1, "Samples transformed in parallel, overrides the config file")
	dummyIVFlag = flag.Bool("dummy-iv", false, "Start IVs at zero")
	debugFlag   = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()
	if *inputFlag == "" {
		fmt.Println("input file is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("failed", "mode", *modeFlag, "input", *inputFlag, "error", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config) {
	if *keyFlag != "" {
		cfg.Key = *keyFlag
	}
	if *keyIDFlag != "" {
		cfg.KeyID = *keyIDFlag
	}
	if *workersFlag >= 0 {
		cfg.Workers = *workersFlag
	}
	if *dummyIVFlag {
		cfg.DummyIV = true
	}
	if *debugFlag {
		cfg.LogLevel = "debug"
	}
}

func outputName(input, suffix string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + suffix
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	key, err := cfg.ParsedKey()
	if err != nil {
		return err
	}

	inputFile, err := os.Open(*inputFlag)
	if err != nil {
		return err
	}
	defer inputFile.Close()

	r := bufseekio.NewReadSeeker(inputFile, 128*1024, 4)
	tracks, err := mp4src.ReadTracks(r, inputFile, log)
	if err != nil {
		return err
	}
	track, err := pickTrack(tracks, uint32(*trackFlag))
	if err != nil {
		return err
	}
	if *debugFlag {
		logNALUnits(log, track)
	}

	var result *cenc.Track
	var aux []cenc.AuxData
	switch *modeFlag {
	case "encrypt":
		keyID, err := cfg.ParsedKeyID()
		if err != nil {
			return err
		}
		enc, err := cenc.EncryptTrack(track, keyID, key, cenc.EncryptOptions{DummyIV: cfg.DummyIV, Logger: log})
		if err != nil {
			return err
		}
		result, aux = &enc.Track, enc.AuxData
	case "decrypt":
		if *sencFlag == "" {
			return errors.New("-senc is required to decrypt")
		}
		aux, err = readSenc(*sencFlag)
		if err != nil {
			return err
		}
		result, err = cenc.DecryptTrack(&cenc.EncryptedTrack{Track: *track, AuxData: aux}, key, cenc.DecryptOptions{Logger: log})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q", *modeFlag)
	}

	samples, err := cenc.Materialize(ctx, result.Samples, cfg.Workers)
	if err != nil {
		return err
	}

	out := *outFlag
	if out == "" {
		out = outputName(*inputFlag, "-"+*modeFlag+"ed.samples")
	}
	if err := writeSamples(out, samples); err != nil {
		return err
	}

	entryOut := *entryFlag
	if entryOut == "" {
		entryOut = outputName(*inputFlag, "-"+*modeFlag+"ed.entry")
	}
	entry, err := result.SampleEntry.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(entryOut, entry, 0o644); err != nil {
		return err
	}

	if *modeFlag == "encrypt" {
		sencOut := *sencFlag
		if sencOut == "" {
			sencOut = outputName(*inputFlag, "-encrypted.senc")
		}
		if err := writeSenc(sencOut, aux); err != nil {
			return err
		}
		log.Info("wrote aux data", "path", sencOut, "records", len(aux))
	}

	if view, ok := result.Samples.(*cenc.SampleView); ok && view.Warnings() > 0 {
		log.Warn("samples with unconsumed data", "count", view.Warnings())
	}
	log.Info("done", "track", result.Name, "samples", len(samples), "out", out, "entry", entryOut)
	return nil
}

func pickTrack(tracks []*cenc.Track, id uint32) (*cenc.Track, error) {
	if id == 0 {
		return tracks[0], nil
	}
	for _, t := range tracks {
		if t.TrackID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("track %d not found", id)
}

func logNALUnits(log *slog.Logger, track *cenc.Track) {
	lengthSize := track.NALLengthSize()
	if lengthSize == 0 {
		return
	}
	for i := 0; i < track.Samples.Len(); i++ {
		sample, err := track.Samples.Sample(i)
		if err != nil {
			log.Debug("unreadable sample", "sample", i, "error", err)
			continue
		}
		units, err := cenc.ScanNALUnits(sample, lengthSize)
		for _, u := range units {
			log.Debug("NAL unit", "sample", i, "type", u.Type.String(), "offset", u.Offset, "length", u.Length)
		}
		if err != nil {
			log.Debug("malformed sample", "sample", i, "error", err)
		}
	}
}

func writeSamples(path string, samples [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, s := range samples {
		if _, err := w.Write(s); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSenc(path string, aux []cenc.AuxData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cenc.EncodeSenc(f, aux); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readSenc(path string) ([]cenc.AuxData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return cenc.DecodeSenc(bufio.NewReader(f))
}
