package logsockd

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

const redacted = "[REDACTED]"

// Redactor masks sensitive substrings before a line reaches disk. Patterns
// use .NET syntax, so lookarounds such as `(?<=password=)\S+` work.
type Redactor struct {
	patterns []*regexp2.Regexp
}

func NewRedactor(patterns []string) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range patterns {
		re, err := regexp2.Compile(p, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p, err)
		}
		re.MatchTimeout = time.Second
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Redact returns line unchanged when no pattern matches. The trailing
// newline is never touched.
func (r *Redactor) Redact(line []byte) ([]byte, error) {
	if r == nil || len(r.patterns) == 0 {
		return line, nil
	}

	body, nl := line, ""
	if n := len(body); n > 0 && body[n-1] == '\n' {
		body, nl = body[:n-1], "\n"
	}

	s := string(body)
	for _, re := range r.patterns {
		out, err := re.Replace(s, redacted, -1, -1)
		if err != nil {
			return line, err
		}
		s = out
	}
	return []byte(s + nl), nil
}
