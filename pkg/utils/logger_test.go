package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true, LogFile{})
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(true) returned nil logger")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false, LogFile{})
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(false) returned nil logger")
		}
		_ = logger.Sync()
	})

	t.Run("file output is rotated json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "callmind.log")
		logger, err := NewLogger(false, LogFile{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("call indexed")
		_ = logger.Sync()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"msg":"call indexed"`) {
			t.Errorf("log file: %s", data)
		}
	})
}
