package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ANSI colors for component prefixes on the console
var componentColors = map[string]string{
	"watcher":     "\033[96m",
	"dashboard":   "\033[95m",
	"startup":     "\033[94m",
	"processor":   "\033[97m",
	"llm":         "\033[93m",
	"relay":       "\033[92m",
	"relayclient": "\033[36m",
	"writer":      "\033[37m",
	"indexer":     "\033[37m",
}

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
)

// NewConsoleWriter builds a human-readable zerolog console writer.
// Lines look like: 15:04:05 INF [PROCESSOR] message key=value
func NewConsoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: time.TimeOnly,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"component",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"component", zerolog.CallerFieldName},
		FormatPrepare: func(evt map[string]interface{}) error {
			component, _ := evt["component"].(string)
			evt["component"] = formatComponent(component, noColor)
			return nil
		},
	}
}

// formatComponent renders a component name as an uppercase bracketed prefix
func formatComponent(component string, noColor bool) string {
	if component == "" {
		return ""
	}
	prefix := fmt.Sprintf("[%s]", strings.ToUpper(component))
	if noColor {
		return prefix
	}
	color, ok := componentColors[strings.ToLower(component)]
	if !ok {
		color = colorBold
	}
	return color + prefix + colorReset
}
