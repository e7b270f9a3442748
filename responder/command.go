package responder

import (
	"strings"

	"github.com/jmcleod/ironca/ca"
)

// Command is a REST operation addressed by the last path segment.
type Command int

const (
	CmdCACert Command = iota + 1
	CmdCACertChain
	CmdDHPocCerts
	CmdEnrollCert
	CmdEnrollCertCAGenKeyPair
	CmdRevokeCert
	CmdDeleteCert
	CmdCRL
	CmdNewCRL
)

var commandTokens = map[Command]string{
	CmdCACert:                 "cacert",
	CmdCACertChain:            "cacertchain",
	CmdDHPocCerts:             "dhpoc-certs",
	CmdEnrollCert:             "enroll-cert",
	CmdEnrollCertCAGenKeyPair: "enroll-cert-cagenkeypair",
	CmdRevokeCert:             "revoke-cert",
	CmdDeleteCert:             "delete-cert",
	CmdCRL:                    "crl",
	CmdNewCRL:                 "new-crl",
}

// Commands returns every command in declaration order.
func Commands() []Command {
	out := make([]Command, 0, len(commandTokens))
	for c := CmdCACert; c <= CmdNewCRL; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCommand matches a path token case-insensitively.
func ParseCommand(token string) (Command, bool) {
	for c, t := range commandTokens {
		if strings.EqualFold(t, token) {
			return c, true
		}
	}
	return 0, false
}

func (c Command) String() string {
	if t, ok := commandTokens[c]; ok {
		return t
	}
	return "unknown"
}

// Permission returns the permission the command requires. Commands that
// only publish CA material need none.
func (c Command) Permission() (ca.Permission, bool) {
	switch c {
	case CmdEnrollCert, CmdEnrollCertCAGenKeyPair:
		return ca.PermEnrollCert, true
	case CmdRevokeCert:
		return ca.PermRevokeCert, true
	case CmdDeleteCert:
		return ca.PermRemoveCert, true
	case CmdCRL:
		return ca.PermGetCRL, true
	case CmdNewCRL:
		return ca.PermGenCRL, true
	}
	return 0, false
}

// IsEnrollment reports whether the command issues a certificate.
func (c Command) IsEnrollment() bool {
	return c == CmdEnrollCert || c == CmdEnrollCertCAGenKeyPair
}
