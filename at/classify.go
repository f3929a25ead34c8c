package at

import (
	"strings"
)

// Classify identifies the nature of one complete modem line. The line may
// still carry its CR/LF terminator.
//
// Terminal markers are matched by prefix, so "OK" and "ERROR" are detected
// even when the modem appends trailing text on the same line.
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return TypeBlank
	case strings.HasPrefix(trimmed, OK):
		return TypeSuccess
	case strings.HasPrefix(trimmed, ERROR),
		strings.HasPrefix(trimmed, CmeError),
		strings.HasPrefix(trimmed, CmsError):
		return TypeFailure
	default:
		return TypeData
	}
}

// IsTerminal reports whether the line ends the exchange in flight.
func IsTerminal(line string) bool {
	switch Classify(line) {
	case TypeSuccess, TypeFailure:
		return true
	}
	return false
}
