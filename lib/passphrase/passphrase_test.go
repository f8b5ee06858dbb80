package passphrase

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil error", nil, OutcomeOther},
		{"passphrase required", errors.New("Passphrase required for entry foo.txt"), OutcomeRequired},
		{"incorrect passphrase", errors.New("Incorrect passphrase"), OutcomeIncorrect},
		{"unsupported crypto codec", errors.New("Crypto codec not supported: aes256"), OutcomeUnsupportedEncryption},
		{"unsupported rar encryption", errors.New("RAR encryption support unavailable in this build"), OutcomeUnsupportedEncryption},
		{"generic corruption", errors.New("unexpected end of archive"), OutcomeOther},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Fatalf("Classify(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestPrompterAsksOnlyOnce(t *testing.T) {
	// Acquire's first call path depends on terminal detection, which a
	// unit test cannot fake without replacing os.Stdin; this test only
	// exercises the "never re-prompt" guard, which is state the
	// Prompter tracks regardless of which branch Acquire takes.
	p := NewPrompter()
	p.asked = true

	if got := p.Acquire(); got != "" {
		t.Fatalf("Acquire() after already asked = %q, want empty string", got)
	}
}
