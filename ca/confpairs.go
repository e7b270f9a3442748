package ca

import (
	"fmt"
	"strings"
)

// Well-known extra-control keys.
const (
	// ConfDHPocCerts names the PEM file with the Diffie-Hellman POP
	// certificates of a CA.
	ConfDHPocCerts = "dhpoc.certs"
)

type confPair struct {
	name  string
	value string
}

// ConfPairs is an ordered set of name/value control pairs. The textual form
// is "name1=value1,name2=value2" where ',', '=' and '\' inside names or
// values are escaped with '\'.
type ConfPairs struct {
	pairs []confPair
}

// ParseConfPairs parses the textual form of ConfPairs.
func ParseConfPairs(s string) (ConfPairs, error) {
	var cp ConfPairs
	if strings.TrimSpace(s) == "" {
		return cp, nil
	}

	var (
		tokens []string
		cur    strings.Builder
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return ConfPairs{}, fmt.Errorf("conf pairs: dangling escape in %q", s)
			}
			cur.WriteByte('\\')
			cur.WriteByte(s[i+1])
			i++
		case c == ',':
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	tokens = append(tokens, cur.String())

	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		idx := unescapedIndex(tok, '=')
		if idx < 0 {
			return ConfPairs{}, fmt.Errorf("conf pairs: missing '=' in %q", tok)
		}
		name := strings.TrimSpace(unescapeConf(tok[:idx]))
		if name == "" {
			return ConfPairs{}, fmt.Errorf("conf pairs: empty name in %q", tok)
		}
		cp.Put(name, unescapeConf(tok[idx+1:]))
	}
	return cp, nil
}

func unescapedIndex(s string, want byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == want {
			return i
		}
	}
	return -1
}

func unescapeConf(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeConf(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', '=', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Put sets name to value, replacing an existing entry in place.
func (cp *ConfPairs) Put(name, value string) {
	for i := range cp.pairs {
		if cp.pairs[i].name == name {
			cp.pairs[i].value = value
			return
		}
	}
	cp.pairs = append(cp.pairs, confPair{name: name, value: value})
}

// Value returns the value stored under name.
func (cp ConfPairs) Value(name string) (string, bool) {
	for _, p := range cp.pairs {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

// Names returns the pair names in insertion order.
func (cp ConfPairs) Names() []string {
	out := make([]string, len(cp.pairs))
	for i, p := range cp.pairs {
		out[i] = p.name
	}
	return out
}

// Len returns the number of pairs.
func (cp ConfPairs) Len() int {
	return len(cp.pairs)
}

// Clone returns an independent copy of cp.
func (cp ConfPairs) Clone() ConfPairs {
	return ConfPairs{pairs: append([]confPair(nil), cp.pairs...)}
}

// Encode renders the textual form accepted by ParseConfPairs.
func (cp ConfPairs) Encode() string {
	parts := make([]string, len(cp.pairs))
	for i, p := range cp.pairs {
		parts[i] = escapeConf(p.name) + "=" + escapeConf(p.value)
	}
	return strings.Join(parts, ",")
}

func (cp ConfPairs) String() string {
	return cp.Encode()
}

// MarshalText implements encoding.TextMarshaler.
func (cp ConfPairs) MarshalText() ([]byte, error) {
	return []byte(cp.Encode()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (cp *ConfPairs) UnmarshalText(b []byte) error {
	parsed, err := ParseConfPairs(string(b))
	if err != nil {
		return err
	}
	*cp = parsed
	return nil
}
