// Package prompt reads secrets and confirmations from the terminal.
// Secret input is read with echo disabled when stdin is a terminal, and
// falls back to plain line reads otherwise (pipes, tests).
package prompt

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ReadSecret prompts on w and reads one secret from r without echo.
func ReadSecret(r io.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprintf(w, "%s: ", label)

	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(secret), nil
	}

	line, err := readLine(r)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return line, nil
}

// ReadSecretConfirmed reads a secret twice and rejects mismatches, for
// inputs that are not recoverable from anywhere else once enrolled.
func ReadSecretConfirmed(r io.Reader, w io.Writer, label string) (string, error) {
	first, err := ReadSecret(r, w, label)
	if err != nil {
		return "", err
	}
	second, err := ReadSecret(r, w, label+" (again)")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("inputs did not match")
	}
	return first, nil
}

// Confirm prompts with a y/N question and reports whether the user
// answered yes. Anything but "y" or "yes" is no.
func Confirm(r io.Reader, w io.Writer, question string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N]: ", question)
	line, err := readLine(r)
	if err != nil {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// readLine reads up to the next newline one byte at a time, so multiple
// reads from the same stream (secret + confirmation) do not over-buffer.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
	}
	return strings.TrimRight(sb.String(), "\r"), nil
}
