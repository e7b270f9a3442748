package util

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time" yaml:"time"`
	MemoryKiB   uint32 `json:"memory" yaml:"memory"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

// Named cost profiles for password hashing.
const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"
)

// Lower bounds accepted by ValidateArgon2idParams.
const (
	MinArgon2Time      uint32 = 1
	MinArgon2MemoryKiB uint32 = 19 * 1024
	MinArgon2Parallel  uint8  = 1
)

// ErrMalformedHash is returned when an encoded password hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed argon2id hash")

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// Argon2idProfile returns the parameters of a named cost profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	switch name {
	case KDFProfileInteractive:
		return Argon2idParams{Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}, nil
	case KDFProfileModerate, "":
		return DefaultArgon2idParams(), nil
	case KDFProfileSensitive:
		return Argon2idParams{Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32}, nil
	}
	return Argon2idParams{}, fmt.Errorf("unknown argon2id profile %q", name)
}

func ValidateArgon2idParams(p Argon2idParams) error {
	switch {
	case p.KeyLen != 32:
		return fmt.Errorf("argon2id key length must be 32 bytes")
	case p.Time < MinArgon2Time:
		return fmt.Errorf("argon2id time must be at least %d", MinArgon2Time)
	case p.MemoryKiB < MinArgon2MemoryKiB:
		return fmt.Errorf("argon2id memory must be at least %d KiB", MinArgon2MemoryKiB)
	case p.Parallelism < MinArgon2Parallel:
		return fmt.Errorf("argon2id parallelism must be at least %d", MinArgon2Parallel)
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// HashPassword derives an argon2id key from password with a fresh salt and
// returns it in PHC string format:
// $argon2id$v=19$m=<mem>,t=<time>,p=<par>$<salt>$<key>.
func HashPassword(password string, params Argon2idParams) (string, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return "", err
	}
	salt, err := RandomBytes(16)
	if err != nil {
		return "", err
	}
	key, err := DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return "", err
	}
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword checks password against a hash produced by HashPassword.
func VerifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrMalformedHash
	}
	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return false, ErrMalformedHash
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[4])
	if err != nil {
		return false, ErrMalformedHash
	}
	key, err := enc.DecodeString(parts[5])
	if err != nil || len(key) != 32 {
		return false, ErrMalformedHash
	}
	params.KeyLen = uint32(len(key))
	return CompareArgon2idKey(password, salt, params, key)
}
