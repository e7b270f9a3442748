package storage

import (
	"bytes"
	"testing"

	"github.com/jmcleod/ironca/internal/util"
)

func TestSealedEnvelope(t *testing.T) {
	key, _ := util.NewAESKey()
	plain := []byte("ca private key")
	aad := []byte("rootca/CAKEY/current")

	env, err := SealRecord(key, plain, aad, 3)
	if err != nil {
		t.Fatalf("SealRecord failed: %v", err)
	}
	if env.Ver != 1 || env.Scheme != SchemeAESGCM || env.Version != 3 {
		t.Errorf("unexpected envelope header: %+v", env)
	}

	decrypted, err := OpenRecord(key, env, aad)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if !bytes.Equal(plain, decrypted) {
		t.Errorf("expected %s, got %s", plain, decrypted)
	}

	t.Run("WrongAAD", func(t *testing.T) {
		if _, err := OpenRecord(key, env, []byte("other/CAKEY/current")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		wrongKey, _ := util.NewAESKey()
		if _, err := OpenRecord(wrongKey, env, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		if _, err := OpenRecord(nil, env, aad); err == nil {
			t.Error("expected error without key, got nil")
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		badEnv := *env
		badEnv.Ver = 99
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error with unsupported version, got nil")
		}
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		badEnv := *env
		badEnv.Scheme = "unknown"
		if _, err := OpenRecord(key, &badEnv, aad); err == nil {
			t.Error("expected error with unsupported scheme, got nil")
		}
	})
}

func TestPlainEnvelope(t *testing.T) {
	env := PlainRecord([]byte(`{"serial":"0a"}`), 7)
	if env.Scheme != SchemePlainJSON || env.Version != 7 {
		t.Errorf("unexpected envelope header: %+v", env)
	}
	got, err := OpenRecord(nil, env, nil)
	if err != nil {
		t.Fatalf("OpenRecord failed: %v", err)
	}
	if string(got) != `{"serial":"0a"}` {
		t.Errorf("unexpected payload %s", got)
	}
}
