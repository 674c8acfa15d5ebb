package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	internal "github.com/ZanzyTHEbar/biomedical-ner/ner"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/config"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `nerscan recognizes biomedical entities in scanned-text transcripts.

Usage:
  nerscan [flags] once [text ...]   recognize the arguments, or stdin lines when none are given
  nerscan [flags] watch             recognize the transcript directory on every change
  nerscan [flags] serve             serve the HTTP API

Flags:
`

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"model":      "model.path",
	"vocab":      "model.vocabPath",
	"labels":     "model.labelsPath",
	"max-length": "model.maxLength",
	"num-labels": "model.numLabels",
	"ep":         "model.executionProvider",
	"ort-lib":    "model.libraryPath",
	"threshold":  "decoder.threshold",
	"strict-bio": "decoder.strictBIO",
	"dir":        "source.dir",
	"store":      "store.enabled",
	"dsn":        "store.dsn",
	"addr":       "server.addr",
	"log-level":  "log.level",
	"pretty":     "log.pretty",
	"workers":    "workers",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(internal.DefaultAppName, pflag.ContinueOnError)
	fs.String("config", "", "config file (default: ./config.yaml or ~/.config/nerscan/config.yaml)")
	fs.String("model", internal.DefaultModelPath, "ONNX token classification model")
	fs.String("vocab", internal.DefaultVocabPath, "WordPiece vocab.txt or vocab.json (or the exported model directory)")
	fs.String("labels", internal.DefaultLabelsPath, "labels.json with id2label")
	fs.Int("max-length", internal.DefaultMaxSeqLen, "fixed model sequence length")
	fs.Int("num-labels", internal.DefaultNumLabels, "number of label classes")
	fs.String("ep", "cpu", "onnxruntime execution provider (cpu, cuda, tensorrt, coreml, dml)")
	fs.String("ort-lib", "", "path to the onnxruntime shared library")
	fs.Float64("threshold", internal.DefaultThreshold, "minimum winning-class probability")
	fs.Bool("strict-bio", false, "start a new entity on every B- tag")
	fs.String("dir", internal.DefaultTranscriptsDir, "transcript directory for watch mode")
	fs.Bool("store", true, "persist results in the history database")
	fs.String("dsn", internal.DefaultDatabaseDSN, "history database DSN")
	fs.String("addr", internal.DefaultListenAddr, "listen address for serve mode")
	fs.String("log-level", "info", "log level")
	fs.Bool("pretty", false, "human-readable console logs")
	fs.Int("workers", 4, "concurrent recognitions for batch input")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig parses args, binds the flags that were given, and loads the config.
func loadConfig(v *viper.Viper, args []string) (*config.Config, []string, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	configPath, _ := fs.GetString("config")
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

func main() {
	bootLog := internal.GetLogger()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		bootLog.Warn().Err(err).Msg("could not load .env")
	}

	cfg, args, err := loadConfig(viper.GetViper(), os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		bootLog.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, args); err != nil {
		fmt.Fprintf(os.Stderr, "nerscan: %v\n", err)
		os.Exit(1)
	}
}
