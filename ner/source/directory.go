package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreFile is looked up inside the transcript directory.
const DefaultIgnoreFile = ".nerignore"

// Directory reads transcripts from *.txt files in one directory, in lexical
// file name order. Files matched by the gitignore-style ignore file are skipped.
type Directory struct {
	Dir string
	// IgnoreFile overrides <Dir>/.nerignore.
	IgnoreFile string
	// Debounce is the quiet period before a burst of writes triggers a callback.
	Debounce    time.Duration
	MaxDebounce time.Duration
	Logger      zerolog.Logger
}

// Transcripts implements Source.
func (d *Directory) Transcripts(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read transcript dir %s: %w", d.Dir, err)
	}
	matcher, err := d.ignoreMatcher()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !d.isTranscript(e.Name(), matcher) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(filepath.Join(d.Dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // removed between listing and reading
			}
			return nil, fmt.Errorf("read transcript %s: %w", name, err)
		}
		if text := strings.TrimSpace(string(b)); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func (d *Directory) isTranscript(name string, matcher *ignore.GitIgnore) bool {
	if !strings.EqualFold(filepath.Ext(name), ".txt") || strings.HasPrefix(name, ".") {
		return false
	}
	return matcher == nil || !matcher.MatchesPath(name)
}

func (d *Directory) ignoreMatcher() (*ignore.GitIgnore, error) {
	path := d.IgnoreFile
	if path == "" {
		path = filepath.Join(d.Dir, DefaultIgnoreFile)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat ignore file: %w", err)
	}
	m, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile ignore file %s: %w", path, err)
	}
	return m, nil
}

// Watch calls fn with a fresh transcript list whenever transcript files in the
// directory change, after the debounce period. It blocks until ctx is done.
// Errors from fn are logged and watching continues.
func (d *Directory) Watch(ctx context.Context, fn func(ctx context.Context, transcripts []string) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(d.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", d.Dir, err)
	}

	delay := d.Debounce
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	deb := NewDebouncer(delay, max(d.MaxDebounce, delay), 16)
	defer deb.Close()

	log := d.Logger.With().Str("component", "directory-source").Str("dir", d.Dir).Logger()
	log.Info().Msg("watching transcripts")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if converted, keep := convertEvent(ev); keep && strings.EqualFold(filepath.Ext(ev.Name), ".txt") {
				// All files feed one transcript list, so debounce on the directory.
				converted.Path = d.Dir
				deb.Add(converted)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")

		case batch := <-deb.Events():
			log.Debug().Int("events", len(batch)).Msg("transcripts changed")
			transcripts, err := d.Transcripts(ctx)
			if err != nil {
				log.Error().Err(err).Msg("reading transcripts failed")
				continue
			}
			if err := fn(ctx, transcripts); err != nil {
				log.Warn().Err(err).Msg("transcript handler failed")
			}
		}
	}
}

// convertEvent maps fsnotify ops onto Event; chmod-only events are dropped.
func convertEvent(ev fsnotify.Event) (Event, bool) {
	var t EventType
	switch {
	case ev.Has(fsnotify.Create):
		t = EventCreate
	case ev.Has(fsnotify.Write):
		t = EventWrite
	case ev.Has(fsnotify.Remove):
		t = EventRemove
	case ev.Has(fsnotify.Rename):
		t = EventRename
	default:
		return Event{}, false
	}
	return Event{Type: t, Path: ev.Name, Timestamp: time.Now()}, true
}
