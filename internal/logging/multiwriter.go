package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// MultiWriter routes log lines to console and file based on level.
// It implements zerolog.LevelWriter so routing uses the event level directly.
type MultiWriter struct {
	consoleWriter io.Writer
	fileWriter    io.Writer
	fileEnabled   bool
}

// NewMultiWriter creates a new MultiWriter with the specified writers
func NewMultiWriter(consoleWriter, fileWriter io.Writer, fileEnabled bool) *MultiWriter {
	return &MultiWriter{
		consoleWriter: consoleWriter,
		fileWriter:    fileWriter,
		fileEnabled:   fileEnabled && fileWriter != nil,
	}
}

// Write handles lines that carry no level; they go to the console
func (m *MultiWriter) Write(p []byte) (int, error) {
	return m.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
// With file logging on, WARN and above reach both sinks and DEBUG/INFO only the file.
func (m *MultiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if !m.fileEnabled {
		return m.consoleWriter.Write(p)
	}

	if level == zerolog.NoLevel || level >= zerolog.WarnLevel {
		_, consoleErr := m.consoleWriter.Write(p)
		n, fileErr := m.fileWriter.Write(p)
		if fileErr != nil {
			return n, fileErr
		}
		return len(p), consoleErr
	}

	return m.fileWriter.Write(p)
}
