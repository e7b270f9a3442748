package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/storage"
)

func (e *Engine) loadCert(serial *big.Int) (*certRecord, error) {
	var rec certRecord
	_, err := getJSON(e.repo, e.name, recordTypeCert, serialKey(serial), &rec)
	if isNotFound(err) {
		return nil, ca.NewOperationError(ca.CodeUnknownCert, "unknown certificate serial 0x%x", serial)
	}
	if err != nil {
		return nil, dbFailure("loading certificate", err)
	}
	return &rec, nil
}

// updateCert writes rec and bumps the revocation epoch.
func (e *Engine) updateCert(rec *certRecord) error {
	st, err := e.loadState()
	if err != nil {
		return dbFailure("loading state", err)
	}
	st.RevocationEpoch++
	err = e.repo.Batch(e.name, func(tx storage.BatchTx) error {
		if err := putJSON(tx, recordTypeCert, rec.Serial, rec); err != nil {
			return err
		}
		return putState(tx, st)
	})
	if err != nil {
		return dbFailure("updating certificate", err)
	}
	return nil
}

// RevokeCertificate revokes a certificate. A certificate on hold may be
// revoked again with a final reason; any other revoked certificate fails
// with CodeCertRevoked.
func (e *Engine) RevokeCertificate(ctx context.Context, serial *big.Int, reason ca.CRLReason, invalidity *time.Time, msgID string) error {
	if !reason.Valid() || reason == ca.ReasonRemoveFromCRL {
		return ca.NewOperationError(ca.CodeBadRequest, "invalid revocation reason %d", int(reason))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.loadCert(serial)
	if err != nil {
		return err
	}
	now := e.now()
	if rec.Revoked {
		if rec.Reason != ca.ReasonCertificateHold || reason == ca.ReasonCertificateHold {
			return ca.NewOperationError(ca.CodeCertRevoked, "certificate 0x%s is already revoked", rec.Serial)
		}
	} else {
		rec.Revoked = true
		rec.RevokedAt = &now
	}
	rec.Reason = reason
	if invalidity != nil {
		t := invalidity.UTC()
		rec.InvalidityTime = &t
	}
	if err := e.updateCert(rec); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "certificate revoked", "serial", rec.Serial, "reason", reason.String(), "mid", msgID)
	return nil
}

// UnrevokeCertificate releases a certificate from hold.
func (e *Engine) UnrevokeCertificate(ctx context.Context, serial *big.Int, msgID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.loadCert(serial)
	if err != nil {
		return err
	}
	if !rec.Revoked {
		return ca.NewOperationError(ca.CodeCertUnrevoked, "certificate 0x%s is not revoked", rec.Serial)
	}
	if rec.Reason != ca.ReasonCertificateHold {
		return ca.NewOperationError(ca.CodeBadRequest, "cannot unrevoke certificate revoked with reason %s", rec.Reason)
	}
	rec.Revoked = false
	rec.RevokedAt = nil
	rec.Reason = ca.ReasonUnspecified
	rec.InvalidityTime = nil
	if err := e.updateCert(rec); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "certificate unrevoked", "serial", rec.Serial, "mid", msgID)
	return nil
}

// RemoveCertificate deletes a certificate from the store. A removed
// certificate no longer appears on CRLs.
func (e *Engine) RemoveCertificate(ctx context.Context, serial *big.Int, msgID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.loadCert(serial)
	if err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return dbFailure("loading state", err)
	}
	if rec.Revoked {
		st.RevocationEpoch++
	}

	var indexed string
	_, err = getJSON(e.repo, e.name, recordTypeSubject, subjectKey(rec.Subject), &indexed)
	if err != nil && !isNotFound(err) {
		return dbFailure("loading subject index", err)
	}

	err = e.repo.Batch(e.name, func(tx storage.BatchTx) error {
		if err := tx.Delete(recordTypeCert, rec.Serial); err != nil {
			return err
		}
		if indexed == rec.Serial {
			if err := tx.Delete(recordTypeSubject, subjectKey(rec.Subject)); err != nil {
				return err
			}
		}
		return putState(tx, st)
	})
	if err != nil {
		return dbFailure("removing certificate", err)
	}

	e.logger.InfoContext(ctx, "certificate removed", "serial", rec.Serial, "mid", msgID)
	return nil
}
