package engine

import (
	"context"

	"github.com/jmcleod/ironca/ca"
	"github.com/jmcleod/ironca/storage"
)

// AddRequest retains a raw enrollment request and returns its id.
func (e *Engine) AddRequest(_ context.Context, raw []byte) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.loadState()
	if err != nil {
		return 0, dbFailure("loading state", err)
	}
	st.NextRequestID++
	rec := requestRecord{ID: st.NextRequestID, Raw: append([]byte(nil), raw...), CreatedAt: e.now()}
	err = e.repo.Batch(e.name, func(tx storage.BatchTx) error {
		if err := putJSON(tx, recordTypeRequest, sequenceKey(rec.ID), rec); err != nil {
			return err
		}
		return putState(tx, st)
	})
	if err != nil {
		return 0, dbFailure("storing request", err)
	}
	return rec.ID, nil
}

// AddRequestCert links a retained request to the certificate issued for it.
func (e *Engine) AddRequestCert(_ context.Context, requestID, certID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rec requestRecord
	if _, err := getJSON(e.repo, e.name, recordTypeRequest, sequenceKey(requestID), &rec); err != nil {
		if isNotFound(err) {
			return ca.NewOperationError(ca.CodeDatabaseFailure, "unknown request %d", requestID)
		}
		return dbFailure("loading request", err)
	}
	rec.CertIDs = append(rec.CertIDs, certID)
	err := e.repo.Batch(e.name, func(tx storage.BatchTx) error {
		return putJSON(tx, recordTypeRequest, sequenceKey(requestID), rec)
	})
	if err != nil {
		return dbFailure("linking request", err)
	}
	return nil
}

// Request returns a retained request.
func (e *Engine) Request(requestID int64) ([]byte, []int64, error) {
	var rec requestRecord
	if _, err := getJSON(e.repo, e.name, recordTypeRequest, sequenceKey(requestID), &rec); err != nil {
		if isNotFound(err) {
			return nil, nil, ca.NewOperationError(ca.CodeDatabaseFailure, "unknown request %d", requestID)
		}
		return nil, nil, dbFailure("loading request", err)
	}
	return rec.Raw, rec.CertIDs, nil
}
