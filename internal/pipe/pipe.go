// Package pipe detects whether devflow runs in a pipeline and reads
// definition input from files or stdin.
package pipe

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// StdinPath is the path argument that selects stdin.
const StdinPath = "-"

// IsStdinPiped returns true if stdin is receiving piped input.
func IsStdinPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode()&os.ModeCharDevice) == 0 || stat.Size() > 0
}

// IsStdoutPiped returns true if stdout is being piped to another process.
func IsStdoutPiped() bool {
	return !term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether both stdin and stdout are terminals, so
// prompts can be shown.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && !IsStdoutPiped()
}

// readStdin reads all available data from stdin.
// Returns empty string if stdin is not piped or has no data.
func readStdin() (string, error) {
	if !IsStdinPiped() {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadInput reads path, or stdin when path is StdinPath.
func ReadInput(path string) ([]byte, error) {
	if path != StdinPath {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return data, nil
	}
	data, err := readStdin()
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if data == "" {
		return nil, errors.New("no input on stdin")
	}
	return []byte(data), nil
}
