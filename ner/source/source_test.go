package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s := Static{"Rx:", "Amoxicillin 500 mg"}
	got, err := s.Transcripts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Rx:", "Amoxicillin 500 mg"}, got)

	got[0] = "changed"
	assert.Equal(t, "Rx:", s[0])
}

func TestReader(t *testing.T) {
	r := Reader{R: strings.NewReader("Take 25mg\n\n   \nLisinopril daily  \n")}
	got, err := r.Transcripts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Take 25mg", "Lisinopril daily"}, got)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDirectory_Transcripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "02-dose.txt", "25mg twice daily\n")
	writeFile(t, dir, "01-drug.txt", "Lisinopril")
	writeFile(t, dir, "03-blank.txt", "   \n")
	writeFile(t, dir, "notes.md", "not a transcript")
	writeFile(t, dir, ".hidden.txt", "hidden")
	writeFile(t, dir, "draft-04.txt", "ignored draft")
	writeFile(t, dir, DefaultIgnoreFile, "draft-*.txt\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	d := &Directory{Dir: dir}
	got, err := d.Transcripts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisinopril", "25mg twice daily"}, got)

	t.Run("explicit ignore file", func(t *testing.T) {
		ign := filepath.Join(t.TempDir(), "ignore")
		require.NoError(t, os.WriteFile(ign, []byte("01-*.txt\n"), 0o644))
		d := &Directory{Dir: dir, IgnoreFile: ign}
		got, err := d.Transcripts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"25mg twice daily", "ignored draft"}, got)
	})

	t.Run("missing directory", func(t *testing.T) {
		d := &Directory{Dir: filepath.Join(dir, "nope")}
		_, err := d.Transcripts(context.Background())
		assert.Error(t, err)
	})
}

func TestDirectory_Watch(t *testing.T) {
	dir := t.TempDir()
	d := &Directory{Dir: dir, Debounce: 20 * time.Millisecond, MaxDebounce: 200 * time.Millisecond, Logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(ctx, func(_ context.Context, transcripts []string) error {
			got <- transcripts
			return nil
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "scan.txt", "Amoxicillin 500 mg")

	select {
	case transcripts := <-got:
		assert.Equal(t, []string{"Amoxicillin 500 mg"}, transcripts)
	case <-time.After(5 * time.Second):
		t.Fatal("no callback after writing a transcript")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, time.Second, 4)
	defer d.Close()

	for i := 0; i < 5; i++ {
		d.Add(Event{Type: EventWrite, Path: "/tmp/a.txt"})
	}
	d.Add(Event{Type: EventCreate, Path: "/tmp/b.txt"})

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case batch := <-d.Events():
			seen[batch[0].Path] = len(batch)
		case <-time.After(2 * time.Second):
			t.Fatal("debouncer did not release batches")
		}
	}
	assert.Equal(t, map[string]int{"/tmp/a.txt": 5, "/tmp/b.txt": 1}, seen)
}

func TestDebouncer_CloseDiscardsPending(t *testing.T) {
	d := NewDebouncer(time.Hour, time.Hour, 1)
	d.Add(Event{Path: "x"})
	d.Close()
	d.Close()
	d.Add(Event{Path: "y"})

	select {
	case <-d.Events():
		t.Fatal("no batch expected after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConvertEvent(t *testing.T) {
	ev, ok := convertEvent(fsnotify.Event{Name: "a.txt", Op: fsnotify.Write})
	assert.True(t, ok)
	assert.Equal(t, EventWrite, ev.Type)

	_, ok = convertEvent(fsnotify.Event{Name: "a.txt", Op: fsnotify.Chmod})
	assert.False(t, ok)
}
