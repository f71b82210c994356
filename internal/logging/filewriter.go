package logging

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	fileBufferSize    = 64 * 1024
	fileFlushInterval = 5 * time.Second
)

// ErrWriterClosed is returned by writes after Close
var ErrWriterClosed = errors.New("file writer is closed")

// FileWriter is a buffered, size-rotated log file sink.
// Writes are safe for concurrent use; a background loop flushes every few seconds.
type FileWriter struct {
	path    string
	file    *os.File
	buffer  *bufio.Writer
	rotator *LogRotator
	mu      sync.Mutex
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFileWriter opens (or creates) path for appending and starts the flush loop.
// The parent directory is created when missing.
func NewFileWriter(path string, maxSizeMB int, maxBackups int) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}

	file, err := openLogFile(path)
	if err != nil {
		return nil, err
	}

	fw := &FileWriter{
		path:    path,
		file:    file,
		buffer:  bufio.NewWriterSize(file, fileBufferSize),
		rotator: NewLogRotator(path, maxSizeMB, maxBackups),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go fw.flushLoop()

	return fw, nil
}

func openLogFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}

func (fw *FileWriter) flushLoop() {
	defer close(fw.done)
	ticker := time.NewTicker(fileFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fw.stop:
			return
		case <-ticker.C:
			fw.mu.Lock()
			if !fw.closed {
				fw.flushLocked()
			}
			fw.mu.Unlock()
		}
	}
}

// Write appends p to the buffer
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return 0, ErrWriterClosed
	}
	return fw.buffer.Write(p)
}

// Flush writes buffered data to disk and rotates when the size threshold is crossed
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return ErrWriterClosed
	}
	return fw.flushLocked()
}

// flushLocked requires fw.mu to be held
func (fw *FileWriter) flushLocked() error {
	if err := fw.buffer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to flush log buffer: %v\n", err)
		return err
	}

	info, err := fw.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if !fw.rotator.ShouldRotate(info.Size()) {
		return nil
	}

	if err := fw.rotateLocked(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to rotate log file: %v\n", err)
		return err
	}
	return nil
}

// rotateLocked closes the current file, shifts backups and reopens a fresh file.
// The writer keeps a usable file handle even when the rename step fails.
func (fw *FileWriter) rotateLocked() error {
	if err := fw.file.Close(); err != nil {
		return fmt.Errorf("failed to close file before rotation: %w", err)
	}

	rotateErr := fw.rotator.Rotate()

	file, err := openLogFile(fw.path)
	if err != nil {
		if rotateErr != nil {
			return fmt.Errorf("rotation failed (%v) and reopen failed: %w", rotateErr, err)
		}
		return err
	}
	fw.file = file
	fw.buffer = bufio.NewWriterSize(file, fileBufferSize)

	return rotateErr
}

// Close stops the flush loop, flushes pending data and closes the file
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	close(fw.stop)

	flushErr := fw.buffer.Flush()
	closeErr := fw.file.Close()
	fw.mu.Unlock()

	<-fw.done

	if flushErr != nil {
		return fmt.Errorf("failed to flush log buffer: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close log file: %w", closeErr)
	}
	return nil
}
