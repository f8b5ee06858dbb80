// Package passphrase implements spec §6.3's passphrase acquisition
// (terminal prompt, no-echo, ask-once) and §6.4's classification of a
// decompression library's error message into one of the outcomes the
// engine maps onto an exit code.
package passphrase

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Outcome classifies an archive-open failure per spec §6.4.
type Outcome int

const (
	// OutcomeOther is a generic invalid-contents failure — the
	// library's message matched none of the known prefixes.
	OutcomeOther Outcome = iota
	OutcomeRequired
	OutcomeIncorrect
	OutcomeUnsupportedEncryption
)

// unsupportedEncryptionPrefixes enumerates the library message
// prefixes spec §6.4 maps to the unsupported-encryption outcome.
var unsupportedEncryptionPrefixes = []string{
	"Crypto codec not supported",
	"Decryption is unsupported",
	"Encrypted file is unsupported",
	"Encryption is not supported",
	"RAR encryption support unavailable",
	"The archive header is encrypted, but currently not supported",
	"The file content is encrypted, but currently not supported",
	"Unsupported encryption format",
}

// Classify inspects err's message against spec §6.4's prefix table.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOther
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Incorrect passphrase"):
		return OutcomeIncorrect
	case strings.Contains(msg, "Passphrase required"):
		return OutcomeRequired
	}
	for _, prefix := range unsupportedEncryptionPrefixes {
		if strings.Contains(msg, prefix) {
			return OutcomeUnsupportedEncryption
		}
	}
	return OutcomeOther
}

// Prompter acquires a passphrase from the user, asking at most once
// per the spec §6.3 "do not re-prompt" rule. Not safe for concurrent
// use — bootstrap is single-threaded.
type Prompter struct {
	asked  bool
	reader *bufio.Reader
}

// NewPrompter builds a Prompter reading from os.Stdin.
func NewPrompter() *Prompter {
	return &Prompter{reader: bufio.NewReader(os.Stdin)}
}

// Acquire returns the passphrase to try next. The first call prompts
// (with echo suppressed if stdin is a terminal) and returns whatever
// the user typed, with an empty line reported as "none" by returning
// an empty string. Every subsequent call returns "" immediately
// without prompting again, preventing infinite retry loops on a wrong
// password.
func (p *Prompter) Acquire() string {
	if p.asked {
		return ""
	}
	p.asked = true

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := p.reader.ReadString('\n')
		if err != nil && line == "" {
			return ""
		}
		return strings.TrimRight(line, "\r\n")
	}

	fmt.Fprint(os.Stderr, "Password > ")
	line, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(line)
}
