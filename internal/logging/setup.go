package logging

import (
	"fmt"
	"io"
	"os"
)

// Options configures the root logger for a process
type Options struct {
	Level       string
	FileEnabled bool
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	Console     io.Writer // defaults to stderr
	NoColor     bool
}

// Setup builds the root logger: pretty console output, plus a rotating JSON file when enabled.
// The returned close func flushes and closes the file sink.
func Setup(component string, opts Options) (*Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleWriter := NewConsoleWriter(console, opts.NoColor)

	closeFn := func() error { return nil }
	var fileWriter io.Writer
	if opts.FileEnabled && opts.FilePath != "" {
		fw, err := NewFileWriter(opts.FilePath, opts.MaxSizeMB, opts.MaxBackups)
		if err != nil {
			// Fall back to console-only logging
			fmt.Fprintf(os.Stderr, "[WARN] file logging disabled: %v\n", err)
		} else {
			fileWriter = fw
			closeFn = fw.Close
		}
	}

	out := NewMultiWriter(consoleWriter, fileWriter, fileWriter != nil)
	return NewLogger(component, ParseLevel(opts.Level), out), closeFn, nil
}
