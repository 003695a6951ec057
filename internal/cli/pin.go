package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var errNoTerminal = errors.New("standard input is not a terminal; use --pin-stdin")

// readPIN reads the PIN from stdin when --pin-stdin is set, otherwise prompts
// on the terminal. With confirm, the terminal prompt asks twice. Surrounding
// whitespace is never part of a PIN.
func (rt *runtime) readPIN(confirm bool) (string, error) {
	if rt.pinStdin {
		line, err := bufio.NewReader(rt.streams.In).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read PIN from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	pin, err := rt.readPassword("PIN: ")
	if err != nil {
		return "", err
	}
	if confirm {
		again, err := rt.readPassword("Repeat PIN: ")
		if err != nil {
			return "", err
		}
		if again != pin {
			return "", errors.New("PINs do not match")
		}
	}
	return pin, nil
}

func (rt *runtime) terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(rt.streams.Err, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(rt.streams.Err)
	if err != nil {
		return "", fmt.Errorf("read PIN: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
