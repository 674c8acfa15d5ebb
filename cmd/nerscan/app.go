package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	internal "github.com/ZanzyTHEbar/biomedical-ner/ner"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/classifier"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/config"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/index"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/recognizer"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/server"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/source"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/store"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/tokenizer"

	"github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog"
)

// app is the wired pipeline for one process.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	clf     classifier.Classifier
	rec     *recognizer.Recognizer
	session *recognizer.Session
	index   *index.Index
	store   *store.Store
	stdin   io.Reader
	stdout  io.Writer
}

// newApp builds the pipeline from cfg. A nil clf is built from the model config.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, clf classifier.Classifier) (*app, error) {
	assertHandler := assert.NewAssertHandler()
	assertHandler.NoError(ctx, cfg.Validate(), "configuration must be valid after loading")

	vocab, err := decode.LoadVocabulary(cfg.Model.LabelsPath, cfg.Model.NumLabels)
	if err != nil {
		return nil, err
	}
	assertHandler.Assert(ctx, vocab.Len() == cfg.Model.NumLabels, "label vocabulary must match the model head",
		"labels", vocab.Len(), "numLabels", cfg.Model.NumLabels)

	enc, err := newEncoder(cfg.Model.VocabPath, cfg.Model.Lowercase, log)
	if err != nil {
		return nil, err
	}
	adapter, err := tokenizer.NewAdapter(enc, cfg.Model.MaxLength)
	if err != nil {
		return nil, err
	}

	if clf == nil {
		clf, err = classifier.New(cfg.Model.Backend, classifier.Options{
			ModelPath:         cfg.Model.Path,
			SeqLen:            cfg.Model.MaxLength,
			NumLabels:         cfg.Model.NumLabels,
			LibraryPath:       cfg.Model.LibraryPath,
			ExecutionProvider: cfg.Model.ExecutionProvider,
			DeviceID:          cfg.Model.DeviceID,
			IntraOpThreads:    cfg.Model.IntraOpThreads,
		})
		if err != nil {
			return nil, err
		}
	}

	rec, err := recognizer.New(recognizer.Options{
		Tokenizer:  adapter,
		Classifier: clf,
		Vocabulary: vocab,
		Threshold:  cfg.Decoder.Threshold,
		Merge:      decode.MergeOptions{StrictBIO: cfg.Decoder.StrictBIO},
		Workers:    cfg.Workers,
		Logger:     log,
	})
	if err != nil {
		clf.Close()
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		clf:    clf,
		rec:    rec,
		index:  index.New(log),
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	a.session = recognizer.NewSession(rec, recognizer.LogSink{Logger: log}, a.index)

	if cfg.Store.Enabled {
		st, err := store.Open(ctx, store.Options{DSN: cfg.Store.DSN, AuthToken: cfg.Store.AuthToken, Logger: log})
		if err != nil {
			clf.Close()
			return nil, err
		}
		a.store = st
		a.session.AddSink(st)
	}
	return a, nil
}

// newEncoder prefers the sugarme BERT pipeline and falls back to the built-in
// greedy WordPiece when it cannot be constructed.
func newEncoder(vocabPath string, lowercase bool, log zerolog.Logger) (tokenizer.Encoder, error) {
	sw, err := tokenizer.NewSugarWordPiece(vocabPath, lowercase)
	if err == nil {
		return sw, nil
	}
	log.Warn().Err(err).Str("vocab", vocabPath).Msg("sugarme tokenizer unavailable, using built-in WordPiece")
	wp, wpErr := tokenizer.LoadWordPieceFromVocab(vocabPath, lowercase)
	if wpErr != nil {
		return nil, errors.Join(err, wpErr)
	}
	return wp, nil
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.clf.Close())
	return errors.Join(errs...)
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	log := internal.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)

	mode := "once"
	if len(args) > 0 {
		mode, args = args[0], args[1:]
	}
	if mode == "providers" {
		eps, err := classifier.ListExecutionProviders()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(eps, "\n"))
		return nil
	}

	a, err := newApp(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()
	return a.runMode(ctx, mode, args)
}

func (a *app) runMode(ctx context.Context, mode string, args []string) error {
	switch mode {
	case "once":
		return a.once(ctx, args)
	case "batch":
		return a.batch(ctx, args)
	case "watch":
		return a.watch(ctx)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown mode %q (want once, batch, watch, serve or providers)", mode)
	}
}

func (a *app) transcripts(ctx context.Context, args []string) ([]string, error) {
	if len(args) > 0 {
		return source.Static(args).Transcripts(ctx)
	}
	return source.Reader{R: a.stdin}.Transcripts(ctx)
}

// once joins all transcripts into one text and prints the applied result.
func (a *app) once(ctx context.Context, args []string) error {
	transcripts, err := a.transcripts(ctx, args)
	if err != nil {
		return err
	}
	res, err := a.session.SubmitTranscripts(ctx, transcripts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// batch recognizes every transcript on its own and prints one JSON line each.
func (a *app) batch(ctx context.Context, args []string) error {
	transcripts, err := a.transcripts(ctx, args)
	if err != nil {
		return err
	}
	all, err := a.rec.RecognizeBatch(ctx, transcripts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	for i, spans := range all {
		if err := enc.Encode(map[string]any{"input": transcripts[i], "spans": spans}); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) watch(ctx context.Context) error {
	dir := &source.Directory{
		Dir:         a.cfg.Source.Dir,
		IgnoreFile:  a.cfg.Source.IgnoreFile,
		Debounce:    a.cfg.Source.Debounce(),
		MaxDebounce: 4 * a.cfg.Source.Debounce(),
		Logger:      a.log,
	}
	submit := func(ctx context.Context, transcripts []string) error {
		_, err := a.session.SubmitTranscripts(ctx, transcripts)
		if errors.Is(err, recognizer.ErrStale) {
			return nil
		}
		return err
	}

	initial, err := dir.Transcripts(ctx)
	if err != nil {
		return err
	}
	if err := submit(ctx, initial); err != nil {
		return err
	}
	return dir.Watch(ctx, submit)
}

func (a *app) serve(ctx context.Context) error {
	opts := server.Options{Session: a.session, Index: a.index, Logger: a.log}
	if a.store != nil {
		opts.History = a.store
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
}
