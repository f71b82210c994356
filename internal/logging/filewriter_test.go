package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileWriterCreatesParentDir(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), ".sieve", "sieve.log")

	fw, err := NewFileWriter(logPath, 10, 3)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	defer fw.Close()

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestFileWriterWriteAndFlush(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	fw, err := NewFileWriter(logPath, 10, 3)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	defer fw.Close()

	data := []byte("test log message\n")
	n, err := fw.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write = %d, %v", n, err)
	}

	// Buffered until flush
	content, _ := os.ReadFile(logPath)
	if len(content) != 0 {
		t.Errorf("expected buffered write, file already has %q", content)
	}

	if err := fw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	content, _ = os.ReadFile(logPath)
	if string(content) != string(data) {
		t.Errorf("file content = %q, want %q", content, data)
	}
}

func TestFileWriterCloseFlushes(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	fw, err := NewFileWriter(logPath, 10, 3)
	if err != nil {
		t.Fatal(err)
	}

	fw.Write([]byte("pending\n"))
	if err := fw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	content, _ := os.ReadFile(logPath)
	if string(content) != "pending\n" {
		t.Errorf("content = %q", content)
	}

	if _, err := fw.Write([]byte("late")); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Write after Close = %v, want ErrWriterClosed", err)
	}
	if err := fw.Flush(); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Flush after Close = %v, want ErrWriterClosed", err)
	}
}

func TestFileWriterRotatesOnFlush(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	fw, err := NewFileWriter(logPath, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Close()

	big := strings.Repeat("x", 1024*1024) + "\n"
	fw.Write([]byte(big))
	if err := fw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected backup after rotation: %v", err)
	}

	fw.Write([]byte("after rotation\n"))
	fw.Flush()
	content, _ := os.ReadFile(logPath)
	if string(content) != "after rotation\n" {
		t.Errorf("live file = %q", content)
	}
}

func TestSetupWithFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sieve.log")
	var console strings.Builder

	logger, closeFn, err := Setup("startup", Options{
		Level:       "debug",
		FileEnabled: true,
		FilePath:    logPath,
		MaxSizeMB:   5,
		MaxBackups:  1,
		Console:     &console,
		NoColor:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("to file only")
	logger.Warn("to both")
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}

	content, _ := os.ReadFile(logPath)
	if !strings.Contains(string(content), "to file only") || !strings.Contains(string(content), "to both") {
		t.Errorf("file content = %q", content)
	}
	if strings.Contains(console.String(), "to file only") {
		t.Errorf("info line leaked to console: %q", console.String())
	}
	if !strings.Contains(console.String(), "[STARTUP]") {
		t.Errorf("console = %q", console.String())
	}
}
