package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName names the config directory and the env prefix
	DefaultAppName        = "nerscan"
	DefaultConfigPath     = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultModelDir       = filepath.Join(DefaultConfigPath, "model")
	DefaultModelPath      = filepath.Join(DefaultModelDir, "model.onnx")
	DefaultVocabPath      = filepath.Join(DefaultModelDir, "vocab.txt")
	DefaultLabelsPath     = filepath.Join(DefaultModelDir, "labels.json")
	DefaultHistoryDBPath  = filepath.Join(DefaultConfigPath, "history.db")
	DefaultTranscriptsDir = filepath.Join(DefaultConfigPath, "transcripts")

	// Model shape for d4data/biomedical-ner-all exported with a fixed sequence length
	DefaultMaxSeqLen  = 512
	DefaultNumLabels  = 84
	DefaultThreshold  = 0.5
	DefaultListenAddr = ":8088"

	// Default Database settings
	DefaultDatabaseDSN = "file:" + DefaultHistoryDBPath
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// NewLogger builds a logger at the named level ("debug", "info", ...).
// Unknown levels fall back to info. pretty switches to the console writer.
func NewLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
