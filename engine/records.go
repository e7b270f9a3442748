package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/storage"
)

// Record types stored in a CA namespace.
const (
	recordTypeCert    = "CERT"
	recordTypeSubject = "SUBJECT"
	recordTypeCRL     = "CRL"
	recordTypeRequest = "REQUEST"

	caStateID = "state"
)

// caState holds the counters of a CA. RevocationEpoch is bumped on every
// change that affects CRL content; CRLEpoch records the epoch the latest
// CRL was built from.
type caState struct {
	NextCertID      int64 `json:"next_cert_id"`
	NextRequestID   int64 `json:"next_request_id"`
	CRLNumber       int64 `json:"crl_number"`
	RevocationEpoch int64 `json:"revocation_epoch"`
	CRLEpoch        int64 `json:"crl_epoch"`

	version uint64
}

type certRecord struct {
	CertID      int64          `json:"cert_id"`
	Serial      string         `json:"serial"`
	DER         []byte         `json:"der"`
	Subject     string         `json:"subject"`
	Profile     string         `json:"profile"`
	Requestor   ca.NameID      `json:"requestor"`
	RequestType ca.RequestType `json:"request_type"`
	MessageID   string         `json:"mid,omitempty"`
	IssuedAt    time.Time      `json:"issued_at"`

	Revoked        bool         `json:"revoked"`
	RevokedAt      *time.Time   `json:"revoked_at,omitempty"`
	Reason         ca.CRLReason `json:"reason,omitempty"`
	InvalidityTime *time.Time   `json:"invalidity_time,omitempty"`
}

type crlRecord struct {
	Number     int64     `json:"number"`
	ThisUpdate time.Time `json:"this_update"`
	NextUpdate time.Time `json:"next_update"`
	DER        []byte    `json:"der"`
}

type requestRecord struct {
	ID        int64     `json:"id"`
	Raw       []byte    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
	CertIDs   []int64   `json:"cert_ids,omitempty"`
}

func serialKey(serial *big.Int) string {
	return fmt.Sprintf("%x", serial)
}

func sequenceKey(n int64) string {
	return fmt.Sprintf("%020d", n)
}

func subjectKey(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound)
}

func dbFailure(what string, err error) *ca.OperationError {
	return &ca.OperationError{Code: ca.CodeDatabaseFailure, Message: what + ": " + err.Error(), Err: err}
}

func getJSON(repo storage.Repository, namespace, recordType, id string, v any) (uint64, error) {
	env, err := repo.Get(namespace, recordType, id)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(env.Ciphertext, v); err != nil {
		return 0, fmt.Errorf("decoding %s record %s: %w", recordType, id, err)
	}
	return env.Version, nil
}

func putJSON(tx storage.BatchTx, recordType, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Put(recordType, id, storage.PlainRecord(data))
}

func putState(tx storage.BatchTx, st *caState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return tx.PutCAS(recordTypeCA, caStateID, st.version, storage.PlainRecord(data, st.version+1))
}
