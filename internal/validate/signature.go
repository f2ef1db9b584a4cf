package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultSubstring matches an error-severity token delimited by spaces.
const DefaultSubstring = " ERROR "

// Signature selects the lines that count as errors. Set at most one of
// Substring and Pattern; the zero value means DefaultSubstring.
type Signature struct {
	Substring string
	Pattern   string
}

// Matcher is a compiled Signature.
type Matcher struct {
	desc      string
	substring string
	re        *regexp.Regexp
}

// Compile validates the signature.
func (s Signature) Compile() (*Matcher, error) {
	switch {
	case s.Substring != "" && s.Pattern != "":
		return nil, errors.New("signature: substring and pattern are mutually exclusive")
	case s.Pattern != "":
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature: %w", err)
		}
		return &Matcher{desc: "/" + s.Pattern + "/", re: re}, nil
	default:
		sub := s.Substring
		if sub == "" {
			sub = DefaultSubstring
		}
		return &Matcher{desc: strconv.Quote(sub), substring: sub}, nil
	}
}

// String describes the signature, e.g. `" ERROR "` or `/panic: .*/`.
func (s Signature) String() string {
	m, err := s.Compile()
	if err != nil {
		return "invalid signature"
	}
	return m.desc
}

// Match reports whether line carries the signature.
func (m *Matcher) Match(line string) bool {
	if m.re != nil {
		return m.re.MatchString(line)
	}
	return strings.Contains(line, m.substring)
}

// String describes the matcher.
func (m *Matcher) String() string {
	return m.desc
}
