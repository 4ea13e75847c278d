// Package secval screens request bodies before they reach the polymorphic
// decoder: dangerous key detection and nesting depth limits. Errors are
// module-local sentinels so callers can map them onto their own types.
//
// secval parses the entire input into memory. Enforce body size limits
// before passing data to it.
package secval

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ai8future/polyguard/internal/jsoncodec"
)

var (
	ErrDangerousKey = errors.New("secval: dangerous key detected")
	ErrNestingDepth = errors.New("secval: nesting depth exceeded")
	ErrInvalidJSON  = errors.New("secval: invalid JSON")
)

// DefaultDangerousKeys is the set of normalised keys blocked by the default
// Scanner.
var DefaultDangerousKeys = []string{
	"__proto__", "constructor", "prototype",
	"execute", "eval", "include", "import", "require",
	"system", "shell", "command", "script", "exec", "spawn", "fork",
}

// MaxNestingDepth is the default maximum depth for nested structures.
const MaxNestingDepth = 20

// Scanner checks JSON documents against a key blocklist and a depth limit.
// The zero value is not usable; construct with NewScanner.
type Scanner struct {
	maxDepth int
	blocked  map[string]bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxDepth overrides MaxNestingDepth. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// WithBlockedKeys adds keys to the blocklist.
func WithBlockedKeys(keys ...string) Option {
	return func(s *Scanner) {
		for _, k := range keys {
			s.blocked[normalise(k)] = true
		}
	}
}

// WithAllowedKeys removes keys from the blocklist.
func WithAllowedKeys(keys ...string) Option {
	return func(s *Scanner) {
		for _, k := range keys {
			delete(s.blocked, normalise(k))
		}
	}
}

// NewScanner returns a Scanner seeded with DefaultDangerousKeys and
// MaxNestingDepth.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{maxDepth: MaxNestingDepth, blocked: make(map[string]bool, len(DefaultDangerousKeys))}
	for _, k := range DefaultDangerousKeys {
		s.blocked[k] = true
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate parses data and scans it for blocked keys and excessive nesting.
// The returned error wraps ErrDangerousKey, ErrNestingDepth or
// ErrInvalidJSON.
func (s *Scanner) Validate(data []byte) error {
	var parsed any
	if err := jsoncodec.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return s.validateValue(parsed, 0)
}

func (s *Scanner) validateValue(v any, depth int) error {
	switch val := v.(type) {
	case map[string]any:
		if depth >= s.maxDepth {
			return fmt.Errorf("%w: depth %d exceeds maximum %d", ErrNestingDepth, depth, s.maxDepth)
		}
		for key, value := range val {
			if s.blocked[normalise(key)] {
				return fmt.Errorf("%w: %q", ErrDangerousKey, key)
			}
			if err := s.validateValue(value, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if depth >= s.maxDepth {
			return fmt.Errorf("%w: depth %d exceeds maximum %d", ErrNestingDepth, depth, s.maxDepth)
		}
		for _, item := range val {
			if err := s.validateValue(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalise strips non-printable and non-ASCII runes, lowercases, and maps
// hyphens to underscores.
func normalise(key string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, key)
	return strings.ToLower(strings.ReplaceAll(cleaned, "-", "_"))
}
