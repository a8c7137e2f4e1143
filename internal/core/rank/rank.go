// Package rank contains the pure rank-key allocator used to order entities
// within a context. Keys compare correctly as raw strings, so any store that
// sorts bytewise reproduces the order without custom collation.
package rank

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet holds the 64 key symbols in strictly increasing code-point order.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// Base is the number of symbols in Alphabet.
const Base = len(Alphabet)

// DefaultMaxLength caps generated keys before the allocator reports exhaustion.
const DefaultMaxLength = 40

const (
	minDigit = 0
	midDigit = Base / 2
)

var (
	// ErrExhausted is returned when a key between the bounds would exceed
	// the configured maximum length. Callers rebalance and retry.
	ErrExhausted = errors.New("rank space exhausted")

	// ErrInvalidBound is returned for malformed bounds or lower >= upper.
	ErrInvalidBound = errors.New("invalid rank bound")
)

// Key is a position within a context. The zero value means "no bound".
type Key string

// Default is the key handed out when a context has no other entries.
var Default = Key(Alphabet[midDigit : midDigit+1])

var digitOf = func() [256]int {
	var table [256]int
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < Base; i++ {
		table[Alphabet[i]] = i
	}
	return table
}()

// String returns the raw key.
func (k Key) String() string { return string(k) }

// IsZero reports whether k is the absent bound.
func (k Key) IsZero() bool { return k == "" }

// Validate checks that k is a canonical key: non-empty, drawn from Alphabet,
// and not ending in the minimum symbol.
func (k Key) Validate() error {
	if k == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidBound)
	}
	for i := 0; i < len(k); i++ {
		if digitOf[k[i]] < 0 {
			return fmt.Errorf("%w: %q contains symbol %q outside the alphabet", ErrInvalidBound, string(k), k[i])
		}
	}
	if digitOf[k[len(k)-1]] == minDigit {
		return fmt.Errorf("%w: %q ends with the minimum symbol", ErrInvalidBound, string(k))
	}
	return nil
}

// Parse converts s into a Key. An empty string parses to the absent bound.
func Parse(s string) (Key, error) {
	k := Key(s)
	if k.IsZero() {
		return k, nil
	}
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Allocator computes keys between neighbors. The zero value uses
// DefaultMaxLength.
type Allocator struct {
	MaxLength int
}

// NewAllocator returns an allocator capping keys at maxLength symbols.
// Non-positive values select DefaultMaxLength.
func NewAllocator(maxLength int) Allocator {
	return Allocator{MaxLength: maxLength}
}

func (a Allocator) maxLength() int {
	if a.MaxLength <= 0 {
		return DefaultMaxLength
	}
	return a.MaxLength
}

// Midpoint returns a key strictly between lower and upper using the default
// allocator.
func Midpoint(lower, upper Key) (Key, error) {
	return Allocator{}.Midpoint(lower, upper)
}

// Midpoint returns a key strictly between lower and upper. A zero bound is
// open: Midpoint("", u) sorts before u, Midpoint(l, "") after l, and
// Midpoint("", "") is Default.
func (a Allocator) Midpoint(lower, upper Key) (Key, error) {
	if !lower.IsZero() {
		if err := lower.Validate(); err != nil {
			return "", err
		}
	}
	if !upper.IsZero() {
		if err := upper.Validate(); err != nil {
			return "", err
		}
	}

	var out string
	switch {
	case lower.IsZero() && upper.IsZero():
		out = string(Default)
	case lower.IsZero():
		out = before(string(upper))
	case upper.IsZero():
		out = after(string(lower))
	default:
		if lower >= upper {
			return "", fmt.Errorf("%w: lower %q is not below upper %q", ErrInvalidBound, string(lower), string(upper))
		}
		out = between(string(lower), string(upper))
	}

	if len(out) > a.maxLength() {
		return "", fmt.Errorf("%w: key would need %d symbols (max %d)", ErrExhausted, len(out), a.maxLength())
	}
	return Key(out), nil
}

// before decrements the first symbol of upper above the minimum and
// truncates there.
func before(upper string) string {
	for i := 0; i < len(upper); i++ {
		d := digitOf[upper[i]]
		if d == minDigit {
			continue
		}
		if d > minDigit+1 {
			return upper[:i] + string(Alphabet[d-1])
		}
		// Decrementing would leave a trailing minimum symbol.
		return upper[:i] + string(Alphabet[minDigit]) + string(Alphabet[midDigit])
	}
	// Only reachable for non-canonical input, which Validate rejects.
	return string(Alphabet[minDigit]) + string(Alphabet[minDigit+1]) + upper
}

// after increments lower as a base-64 number at its last position.
func after(lower string) string {
	digits := []byte(lower)
	for i := len(digits) - 1; i >= 0; i-- {
		d := digitOf[digits[i]]
		if d < Base-1 {
			digits[i] = Alphabet[d+1]
			return string(digits[:i+1])
		}
		digits[i] = Alphabet[minDigit]
	}
	return lower + string(Alphabet[midDigit])
}

// between assumes lower < upper, both canonical.
func between(lower, upper string) string {
	var prefix strings.Builder
	for n := 0; n < len(upper); n++ {
		dl := digitAt(lower, n)
		du := digitOf[upper[n]]
		if dl == du {
			prefix.WriteByte(upper[n])
			continue
		}

		if du-dl >= 2 {
			prefix.WriteByte(Alphabet[(dl+du)/2])
			return prefix.String()
		}
		if n+1 < len(upper) {
			// upper continues past this symbol, so the symbol alone is
			// already below it and above lower.
			prefix.WriteByte(upper[n])
			return prefix.String()
		}
		prefix.WriteByte(Alphabet[dl])
		rest := ""
		if n+1 < len(lower) {
			rest = lower[n+1:]
		}
		if rest == "" {
			prefix.WriteByte(Alphabet[midDigit])
			return prefix.String()
		}
		prefix.WriteString(after(rest))
		return prefix.String()
	}
	// lower < upper guarantees a differing position within upper.
	panic(fmt.Sprintf("rank: no differing position between %q and %q", lower, upper))
}

func digitAt(s string, i int) int {
	if i < len(s) {
		return digitOf[s[i]]
	}
	return minDigit
}

// Spread returns n canonical keys in increasing order, evenly spaced across
// the key space at a fixed width. Width grows past the requested value when
// n would not fit.
func Spread(n, width int) []Key {
	if n <= 0 {
		return []Key{}
	}
	if width < 1 {
		width = 1
	}
	slots := 1
	for i := 0; i < width; i++ {
		slots *= Base
	}
	for slots <= n {
		width++
		slots *= Base
	}

	keys := make([]Key, n)
	for i := 0; i < n; i++ {
		keys[i] = encode((i+1)*slots/(n+1), width)
	}
	return keys
}

// encode writes v as width base-64 symbols, dropping trailing minimums.
func encode(v, width int) Key {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = Alphabet[v%Base]
		v /= Base
	}
	end := width
	for end > 1 && digitOf[buf[end-1]] == minDigit {
		end--
	}
	return Key(buf[:end])
}
