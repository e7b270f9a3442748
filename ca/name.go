package ca

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrInvalidName is returned when a distinguished name string is malformed.
var ErrInvalidName = errors.New("invalid distinguished name")

var (
	oidCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidSurname            = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidSerialNumber       = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidProvince           = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidStreet             = asn1.ObjectIdentifier{2, 5, 4, 9}
	oidOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidTitle              = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidPostalCode         = asn1.ObjectIdentifier{2, 5, 4, 17}
	oidGivenName          = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidDomainComponent    = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	oidUserID             = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	oidEmailAddress       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

var attributeNames = []struct {
	name string
	oid  asn1.ObjectIdentifier
}{
	{"CN", oidCommonName},
	{"SURNAME", oidSurname},
	{"SERIALNUMBER", oidSerialNumber},
	{"C", oidCountry},
	{"L", oidLocality},
	{"ST", oidProvince},
	{"STREET", oidStreet},
	{"O", oidOrganization},
	{"OU", oidOrganizationalUnit},
	{"T", oidTitle},
	{"POSTALCODE", oidPostalCode},
	{"GIVENNAME", oidGivenName},
	{"DC", oidDomainComponent},
	{"UID", oidUserID},
	{"E", oidEmailAddress},
	{"EMAILADDRESS", oidEmailAddress},
}

func attributeOID(name string) (asn1.ObjectIdentifier, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, an := range attributeNames {
		if an.name == upper {
			return an.oid, nil
		}
	}
	upper = strings.TrimPrefix(upper, "OID.")
	parts := strings.Split(upper, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidName, name)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidName, name)
		}
		oid[i] = n
	}
	return oid, nil
}

func attributeShortName(oid asn1.ObjectIdentifier) string {
	for _, an := range attributeNames {
		if an.oid.Equal(oid) {
			return an.name
		}
	}
	return oid.String()
}

// ParseName parses a string distinguished name such as "CN=foo,O=Bar,C=DE".
// RDNs are kept in the order written; '+' joins multi-valued RDNs. Values may
// be quoted or use backslash escapes (including \XX hex pairs).
func ParseName(s string) (pkix.RDNSequence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	escaped, attrs, err := escapeQuoted(s)
	if err != nil {
		return nil, err
	}
	dn, err := ldap.ParseDN(escaped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	seq := make(pkix.RDNSequence, 0, len(dn.RDNs))
	n := 0
	for _, rdn := range dn.RDNs {
		set := make(pkix.RelativeDistinguishedNameSET, 0, len(rdn.Attributes))
		for _, atv := range rdn.Attributes {
			oid, err := attributeOID(atv.Type)
			if err != nil {
				return nil, err
			}
			if atv.Value == "" {
				return nil, fmt.Errorf("%w: empty value for %s", ErrInvalidName, atv.Type)
			}
			set = append(set, pkix.AttributeTypeAndValue{Type: oid, Value: atv.Value})
			n++
		}
		seq = append(seq, set)
	}
	// ParseDN drops a trailing attribute whose value is empty.
	if n != attrs {
		return nil, fmt.Errorf("%w: empty value in %q", ErrInvalidName, s)
	}
	return seq, nil
}

// escapeQuoted rewrites "quoted" values into backslash-escaped form for
// ldap.ParseDN and counts the attributes written.
func escapeQuoted(s string) (string, int, error) {
	var b strings.Builder
	inType, attrs := true, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("%w: dangling escape", ErrInvalidName)
			}
			b.WriteString(s[i : i+2])
			i++
			continue
		case inType && c == '=':
			inType = false
			attrs++
			b.WriteByte(c)
			for i+1 < len(s) && s[i+1] == ' ' {
				i++
			}
			if i+1 < len(s) && s[i+1] == '"' {
				end, err := writeQuoted(&b, s, i+2)
				if err != nil {
					return "", 0, err
				}
				i = end
			}
			continue
		case !inType && (c == ',' || c == ';' || c == '+'):
			inType = true
		}
		b.WriteByte(c)
	}
	return b.String(), attrs, nil
}

// writeQuoted escapes the quoted value starting at s[start] and returns the
// index of the closing quote.
func writeQuoted(b *strings.Builder, s string, start int) (int, error) {
	for j := start; j < len(s); j++ {
		switch c := s[j]; c {
		case '"':
			return j, nil
		case '\\':
			if j+1 >= len(s) {
				return 0, fmt.Errorf("%w: dangling escape", ErrInvalidName)
			}
			b.WriteString(s[j : j+2])
			j++
		case ' ', '#', '+', ',', ';', '<', '=', '>':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return 0, fmt.Errorf("%w: unterminated quote", ErrInvalidName)
}

// FormatName renders rdns in the order encoded, e.g. "CN=foo,O=Bar".
func FormatName(rdns pkix.RDNSequence) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		attrs := make([]string, 0, len(rdn))
		for _, atv := range rdn {
			attrs = append(attrs, attributeShortName(atv.Type)+"="+escapeValue(fmt.Sprint(atv.Value)))
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}
	return strings.Join(parts, ",")
}

func escapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case ',', '+', '"', '\\', '<', '>', ';', '=':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CanonicalizeName returns the comparison form of rdns: attribute types as
// lower-case short names, values lower-cased with inner whitespace collapsed.
func CanonicalizeName(rdns pkix.RDNSequence) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		attrs := make([]string, 0, len(rdn))
		for _, atv := range rdn {
			v := strings.Join(strings.Fields(strings.ToLower(fmt.Sprint(atv.Value))), " ")
			attrs = append(attrs, strings.ToLower(attributeShortName(atv.Type))+"="+escapeValue(v))
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}
	return strings.Join(parts, ",")
}

// nameFromRDNs converts an RDN sequence into a pkix.Name. Attribute order is
// only preserved by the raw DER, so callers keep both.
func nameFromRDNs(rdns pkix.RDNSequence) pkix.Name {
	var n pkix.Name
	n.FillFromRDNSequence(&rdns)
	return n
}
