package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// buildValidChain returns an Export with n correctly chained entries.
func buildValidChain(ca string, n int) Export {
	entries := make([]Record, n)
	prevHash := GenesisHash
	for i := 0; i < n; i++ {
		entries[i] = Record{
			ID:          fmt.Sprintf("entry-%d", i),
			Seq:         uint64(i + 1),
			CA:          ca,
			Application: "CA",
			Event:       "perf",
			Level:       "INFO",
			Status:      "SUCCESSFUL",
			Fields:      []Field{{Name: FieldEventType, Value: "crl"}},
			CreatedAt:   time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339Nano),
			PrevHash:    prevHash,
		}
		prevHash = ChainHash(entries[i])
	}
	return Export{CA: ca, Entries: entries}
}

func findCheck(t *testing.T, result VerifyResult, name string) CheckResult {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "check not found", "%s", name)
	return CheckResult{}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestVerify_ValidChain(t *testing.T) {
	result := VerifyChain(buildValidChain("ca1", 5))

	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.EntryCount)
	assert.Equal(t, "ca1", result.CA)
	for _, c := range result.Checks {
		assert.NotEqual(t, CheckFail, c.Status, c.Name)
	}
}

func TestVerify_EmptyChain(t *testing.T) {
	result := VerifyChain(Export{CA: "ca1"})
	assert.True(t, result.Valid)
	assert.Equal(t, "empty_chain", result.Checks[0].Name)
}

func TestVerify_BadGenesis(t *testing.T) {
	export := buildValidChain("ca1", 2)
	export.Entries[0].PrevHash = "abc"

	result := VerifyChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckFail, findCheck(t, result, "genesis_anchor").Status)
}

func TestVerify_TamperedContent(t *testing.T) {
	export := buildValidChain("ca1", 4)
	export.Entries[1].Status = "FAILED"

	result := VerifyChain(export)
	assert.False(t, result.Valid)
	c := findCheck(t, result, "chain_continuity")
	assert.Equal(t, CheckFail, c.Status)
	assert.Contains(t, c.Detail, "entry 2")
}

func TestVerify_DeletedEntry(t *testing.T) {
	export := buildValidChain("ca1", 4)
	export.Entries = append(export.Entries[:1], export.Entries[2:]...)

	result := VerifyChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckFail, findCheck(t, result, "chain_continuity").Status)
	assert.Equal(t, CheckFail, findCheck(t, result, "contiguous_sequence").Status)
}

func TestVerify_DuplicateIDs(t *testing.T) {
	export := buildValidChain("ca1", 3)
	export.Entries[2].ID = export.Entries[0].ID

	result := VerifyChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckFail, findCheck(t, result, "no_duplicate_ids").Status)
}

func TestVerify_ForeignCA(t *testing.T) {
	export := buildValidChain("ca1", 2)
	export.CA = "ca2"

	result := VerifyChain(export)
	assert.False(t, result.Valid)
	assert.Equal(t, CheckFail, findCheck(t, result, "consistent_ca").Status)
}

func TestVerify_TimestampSkewOnlyWarns(t *testing.T) {
	export := Export{CA: "ca1"}
	prev := GenesisHash
	times := []string{"2025-01-01T00:00:05Z", "2025-01-01T00:00:01Z"}
	for i, ts := range times {
		r := Record{ID: fmt.Sprintf("e%d", i), Seq: uint64(i + 1), CA: "ca1", CreatedAt: ts, PrevHash: prev}
		prev = ChainHash(r)
		export.Entries = append(export.Entries, r)
	}

	result := VerifyChain(export)
	assert.True(t, result.Valid)
	assert.Equal(t, CheckWarn, findCheck(t, result, "monotonic_timestamps").Status)
}
