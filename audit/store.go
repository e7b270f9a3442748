package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/ironca/internal/uuid"
	"github.com/jmcleod/ironca/storage"
)

const (
	recordType     = "AUDIT"
	headRecordType = "AUDIT_HEAD"
	headRecordID   = "head"

	// GlobalNamespace holds events that could not be attributed to a CA.
	GlobalNamespace = "_server"
)

// GenesisHash is the prev_hash of the first record of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is the persisted form of an Event. Records of one CA form a hash
// chain: each PrevHash is the ChainHash of the record before it.
type Record struct {
	ID          string  `json:"id"`
	Seq         uint64  `json:"seq"`
	CA          string  `json:"ca"`
	Application string  `json:"app"`
	Event       string  `json:"event"`
	Level       string  `json:"level"`
	Status      string  `json:"status"`
	Fields      []Field `json:"fields"`
	DurationMS  int64   `json:"duration_ms"`
	CreatedAt   string  `json:"created_at"`
	PrevHash    string  `json:"prev_hash"`
}

// ChainHash computes the link to the next record:
// SHA-256(id || prev_hash || created_at || content), where content is the
// JSON encoding of the record's payload fields.
func ChainHash(r Record) string {
	content, _ := json.Marshal(struct {
		Seq         uint64  `json:"seq"`
		CA          string  `json:"ca"`
		Application string  `json:"app"`
		Event       string  `json:"event"`
		Level       string  `json:"level"`
		Status      string  `json:"status"`
		Fields      []Field `json:"fields"`
		DurationMS  int64   `json:"duration_ms"`
	}{r.Seq, r.CA, r.Application, r.Event, r.Level, r.Status, r.Fields, r.DurationMS})

	h := sha256.New()
	h.Write([]byte(r.ID + r.PrevHash + r.CreatedAt))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

type chainHead struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

// StoreSink appends events to a per-CA hash chain in a storage.Repository.
type StoreSink struct {
	repo storage.Repository
	mu   sync.Mutex
	now  func() time.Time
}

// NewStoreSink returns a sink persisting into repo.
func NewStoreSink(repo storage.Repository) *StoreSink {
	return &StoreSink{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func recordKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

func (s *StoreSink) loadHead(namespace string) (chainHead, uint64, error) {
	env, err := s.repo.Get(namespace, headRecordType, headRecordID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return chainHead{Hash: GenesisHash}, 0, nil
	}
	if err != nil {
		return chainHead{}, 0, fmt.Errorf("loading audit head: %w", err)
	}
	var head chainHead
	if err := json.Unmarshal(env.Ciphertext, &head); err != nil {
		return chainHead{}, 0, fmt.Errorf("decoding audit head: %w", err)
	}
	return head, env.Version, nil
}

func (s *StoreSink) Emit(_ context.Context, e *Event) error {
	namespace, _ := e.Field(FieldCA)
	if namespace == "" {
		namespace = GlobalNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, version, err := s.loadHead(namespace)
	if err != nil {
		return err
	}

	rec := Record{
		ID:          uuid.New(),
		Seq:         head.Seq + 1,
		CA:          namespace,
		Application: e.ApplicationName,
		Event:       e.Name,
		Level:       e.Level.String(),
		Status:      e.Status.String(),
		Fields:      e.Fields(),
		DurationMS:  e.Duration.Milliseconds(),
		CreatedAt:   s.now().Format(time.RFC3339Nano),
		PrevHash:    head.Hash,
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	newHead := chainHead{Seq: rec.Seq, Hash: ChainHash(rec)}
	headData, err := json.Marshal(newHead)
	if err != nil {
		return err
	}

	return s.repo.Batch(namespace, func(tx storage.BatchTx) error {
		if err := tx.Put(recordType, recordKey(rec.Seq), storage.PlainRecord(recData)); err != nil {
			return err
		}
		return tx.PutCAS(headRecordType, headRecordID, version, storage.PlainRecord(headData, version+1))
	})
}

// Records returns the chain of one CA in sequence order.
func (s *StoreSink) Records(namespace string) ([]Record, error) {
	ids, err := s.repo.List(namespace, recordType)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		env, err := s.repo.Get(namespace, recordType, id)
		if err != nil {
			return nil, fmt.Errorf("loading audit record %s: %w", id, err)
		}
		var rec Record
		if err := json.Unmarshal(env.Ciphertext, &rec); err != nil {
			return nil, fmt.Errorf("decoding audit record %s: %w", id, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// Export is the offline-verifiable dump of one CA's chain.
type Export struct {
	CA         string   `json:"ca"`
	ExportedAt string   `json:"exported_at"`
	Entries    []Record `json:"entries"`
}

// Export returns the chain of one CA ready for serialization.
func (s *StoreSink) Export(namespace string) (*Export, error) {
	records, err := s.Records(namespace)
	if err != nil {
		return nil, err
	}
	return &Export{
		CA:         namespace,
		ExportedAt: s.now().Format(time.RFC3339),
		Entries:    records,
	}, nil
}
