package storage

import (
	"fmt"

	"github.com/jmcleod/ironca/internal/util"
)

// Envelope schemes.
const (
	SchemeAESGCM    = "aes256gcm"
	SchemePlainJSON = "plain-json"
)

// Envelope is a stored record. Sealed records carry AES-256-GCM ciphertext;
// plain records carry their payload in Ciphertext with SchemePlainJSON.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// PlainRecord wraps an unencrypted JSON payload.
func PlainRecord(payload []byte, version ...uint64) *Envelope {
	env := &Envelope{Ver: 1, Scheme: SchemePlainJSON, Ciphertext: payload}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version ...uint64) (*Envelope, error) {
	cipher, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	// util.EncryptAESWithAAD returns nonce || ciphertext.
	env := &Envelope{
		Ver:        1,
		Scheme:     SchemeAESGCM,
		Nonce:      cipher[:12],
		Ciphertext: cipher[12:],
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env, nil
}

// OpenRecord returns the payload of an Envelope, decrypting sealed records
// with the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	switch envelope.Scheme {
	case SchemePlainJSON:
		return envelope.Ciphertext, nil
	case SchemeAESGCM:
	default:
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	if recordKey == nil {
		return nil, fmt.Errorf("sealed record requires a key")
	}

	// Reconstruct nonce || ciphertext without mutating envelope fields.
	fullCipher := make([]byte, len(envelope.Nonce)+len(envelope.Ciphertext))
	copy(fullCipher, envelope.Nonce)
	copy(fullCipher[len(envelope.Nonce):], envelope.Ciphertext)

	return util.DecryptAESWithAAD(fullCipher, recordKey, aad)
}
