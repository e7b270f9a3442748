package ca

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"strings"
)

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// GeneralName tags (context-specific) as defined in RFC 5280 section 4.2.1.6.
const (
	TagOtherName     = 0
	TagRFC822Name    = 1
	TagDNSName       = 2
	TagX400Address   = 3
	TagDirectoryName = 4
	TagEDIPartyName  = 5
	TagURI           = 6
	TagIPAddress     = 7
	TagRegisteredID  = 8
)

// GeneralName is one entry of a GeneralNames sequence. Bytes holds the
// content octets of the tagged value.
type GeneralName struct {
	Tag   int
	Bytes []byte
}

func (g GeneralName) String() string {
	switch g.Tag {
	case TagRFC822Name:
		return "email:" + string(g.Bytes)
	case TagDNSName:
		return "dns:" + string(g.Bytes)
	case TagURI:
		return "uri:" + string(g.Bytes)
	case TagIPAddress:
		return "ip:" + net.IP(g.Bytes).String()
	case TagDirectoryName:
		var rdns pkix.RDNSequence
		if _, err := asn1.Unmarshal(g.Bytes, &rdns); err == nil {
			return "dirName:" + FormatName(rdns)
		}
	}
	return fmt.Sprintf("[%d]%x", g.Tag, g.Bytes)
}

// GeneralNames is an ordered subject-alternative-name set.
type GeneralNames []GeneralName

// ParseGeneralNames decodes the DER value of a subjectAltName extension.
func ParseGeneralNames(der []byte) (GeneralNames, error) {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing data after GeneralNames")
	}
	if !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal {
		return nil, errors.New("GeneralNames is not a SEQUENCE")
	}
	var out GeneralNames
	rest = seq.Bytes
	for len(rest) > 0 {
		var v asn1.RawValue
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return nil, err
		}
		if v.Class != asn1.ClassContextSpecific || v.Tag > TagRegisteredID {
			return nil, fmt.Errorf("unexpected GeneralName tag %d", v.Tag)
		}
		out = append(out, GeneralName{Tag: v.Tag, Bytes: append([]byte(nil), v.Bytes...)})
	}
	if len(out) == 0 {
		return nil, errors.New("empty GeneralNames")
	}
	return out, nil
}

// Clone returns a deep copy of g.
func (g GeneralNames) Clone() GeneralNames {
	if g == nil {
		return nil
	}
	out := make(GeneralNames, len(g))
	for i, n := range g {
		out[i] = GeneralName{Tag: n.Tag, Bytes: append([]byte(nil), n.Bytes...)}
	}
	return out
}

func (g GeneralNames) String() string {
	parts := make([]string, len(g))
	for i, n := range g {
		parts[i] = n.String()
	}
	return strings.Join(parts, ",")
}
