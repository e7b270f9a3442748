package engine

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/storage"
)

var oidInvalidityDate = asn1.ObjectIdentifier{2, 5, 29, 24}

// CRL returns the DER CRL with the given number, or the latest when number
// is nil. It returns nil without error when no such CRL exists.
func (e *Engine) CRL(_ context.Context, number *big.Int) ([]byte, error) {
	var n int64
	if number == nil {
		st, err := e.loadState()
		if err != nil {
			return nil, dbFailure("loading state", err)
		}
		if st.CRLNumber == 0 {
			return nil, nil
		}
		n = st.CRLNumber
	} else {
		if !number.IsInt64() || number.Sign() <= 0 {
			return nil, nil
		}
		n = number.Int64()
	}

	var rec crlRecord
	_, err := getJSON(e.repo, e.name, recordTypeCRL, sequenceKey(n), &rec)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, dbFailure("loading CRL", err)
	}
	return rec.DER, nil
}

// GenerateCRLOnDemand builds a new CRL. When no revocation state changed
// since the latest CRL and that CRL has not reached its nextUpdate, the
// latest CRL is returned unchanged.
func (e *Engine) GenerateCRLOnDemand(ctx context.Context, msgID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.loadState()
	if err != nil {
		return nil, dbFailure("loading state", err)
	}
	now := e.now()

	if st.CRLNumber > 0 && st.CRLEpoch == st.RevocationEpoch {
		var latest crlRecord
		_, err := getJSON(e.repo, e.name, recordTypeCRL, sequenceKey(st.CRLNumber), &latest)
		if err != nil && !isNotFound(err) {
			return nil, dbFailure("loading CRL", err)
		}
		if err == nil && now.Before(latest.NextUpdate) {
			return latest.DER, nil
		}
	}

	entries, err := e.revokedEntries()
	if err != nil {
		return nil, err
	}

	issuer, signer := e.material.Cert, crypto.Signer(e.material.Signer)
	if e.crlSigner != nil && e.identity.CRLSignerCert() != nil {
		issuer, signer = e.crlSigner.Cert, e.crlSigner.Signer
	}

	st.CRLNumber++
	st.CRLEpoch = st.RevocationEpoch
	rec := crlRecord{
		Number:     st.CRLNumber,
		ThisUpdate: now,
		NextUpdate: now.Add(e.cfg.CRLValidity),
	}
	template := &x509.RevocationList{
		Number:                    big.NewInt(rec.Number),
		ThisUpdate:                rec.ThisUpdate,
		NextUpdate:                rec.NextUpdate,
		RevokedCertificateEntries: entries,
	}
	rec.DER, err = x509.CreateRevocationList(rand.Reader, template, issuer, signer)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeCRLFailure, Message: "could not sign CRL", Err: err}
	}

	err = e.repo.Batch(e.name, func(tx storage.BatchTx) error {
		if err := putJSON(tx, recordTypeCRL, sequenceKey(rec.Number), rec); err != nil {
			return err
		}
		return putState(tx, st)
	})
	if err != nil {
		return nil, dbFailure("storing CRL", err)
	}

	e.logger.InfoContext(ctx, "CRL generated", "crl_number", rec.Number, "entries", len(entries), "mid", msgID)
	return rec.DER, nil
}

func (e *Engine) revokedEntries() ([]x509.RevocationListEntry, error) {
	ids, err := e.repo.List(e.name, recordTypeCert)
	if err != nil && !isNotFound(err) {
		return nil, dbFailure("listing certificates", err)
	}
	entries := make([]x509.RevocationListEntry, 0)
	for _, id := range ids {
		var rec certRecord
		if _, err := getJSON(e.repo, e.name, recordTypeCert, id, &rec); err != nil {
			return nil, dbFailure("loading certificate", err)
		}
		if !rec.Revoked || rec.RevokedAt == nil {
			continue
		}
		serial, ok := new(big.Int).SetString(rec.Serial, 16)
		if !ok {
			return nil, &ca.OperationError{Code: ca.CodeCRLFailure, Message: fmt.Sprintf("corrupt serial %q", rec.Serial)}
		}
		entry := x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: *rec.RevokedAt,
			ReasonCode:     int(rec.Reason),
		}
		if rec.InvalidityTime != nil {
			value, err := asn1.MarshalWithParams(*rec.InvalidityTime, "generalized")
			if err != nil {
				return nil, &ca.OperationError{Code: ca.CodeCRLFailure, Message: "could not encode invalidity date", Err: err}
			}
			entry.ExtraExtensions = append(entry.ExtraExtensions, pkix.Extension{Id: oidInvalidityDate, Value: value})
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
