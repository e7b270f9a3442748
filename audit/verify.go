package audit

import (
	"fmt"
	"time"
)

// Check statuses.
const (
	CheckPass = "pass"
	CheckFail = "fail"
	CheckWarn = "warn"
)

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// VerifyResult is the outcome of VerifyChain.
type VerifyResult struct {
	File       string        `json:"file,omitempty"`
	CA         string        `json:"ca"`
	EntryCount int           `json:"entry_count"`
	Valid      bool          `json:"valid"`
	Checks     []CheckResult `json:"checks"`
}

func (r *VerifyResult) add(name, status, detail string) {
	if status == CheckFail {
		r.Valid = false
	}
	r.Checks = append(r.Checks, CheckResult{Name: name, Status: status, Detail: detail})
}

// VerifyChain checks an exported chain: genesis anchor, hash continuity,
// unique ids, contiguous sequence numbers, a single CA and timestamp order.
// Out-of-order timestamps only warn since clocks may skew.
func VerifyChain(export Export) VerifyResult {
	result := VerifyResult{
		CA:         export.CA,
		EntryCount: len(export.Entries),
		Valid:      true,
	}
	entries := export.Entries

	if len(entries) == 0 {
		result.add("empty_chain", CheckPass, "no entries to verify")
		return result
	}

	if entries[0].PrevHash == GenesisHash {
		result.add("genesis_anchor", CheckPass, "")
	} else {
		result.add("genesis_anchor", CheckFail,
			fmt.Sprintf("first entry prev_hash=%s, expected genesis hash", entries[0].PrevHash))
	}

	chainDetail := ""
	for i := 1; i < len(entries); i++ {
		expected := ChainHash(entries[i-1])
		if entries[i].PrevHash != expected {
			chainDetail = fmt.Sprintf("entry %d (id=%s) has prev_hash=%s but expected %s (computed from entry %d)",
				i, entries[i].ID, entries[i].PrevHash, expected, i-1)
			break
		}
	}
	if chainDetail == "" {
		result.add("chain_continuity", CheckPass, fmt.Sprintf("all %d entries link correctly", len(entries)))
	} else {
		result.add("chain_continuity", CheckFail, chainDetail)
	}

	seen := make(map[string]int, len(entries))
	dupDetail := ""
	for i, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			dupDetail = fmt.Sprintf("entry %d and entry %d share id=%s", prev, i, e.ID)
			break
		}
		seen[e.ID] = i
	}
	if dupDetail == "" {
		result.add("no_duplicate_ids", CheckPass, "")
	} else {
		result.add("no_duplicate_ids", CheckFail, dupDetail)
	}

	seqDetail := ""
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			seqDetail = fmt.Sprintf("entry %d has seq=%d, expected %d", i, e.Seq, i+1)
			break
		}
	}
	if seqDetail == "" {
		result.add("contiguous_sequence", CheckPass, "")
	} else {
		result.add("contiguous_sequence", CheckFail, seqDetail)
	}

	caDetail := ""
	for i, e := range entries {
		if e.CA != export.CA {
			caDetail = fmt.Sprintf("entry %d has ca=%s, expected %s", i, e.CA, export.CA)
			break
		}
	}
	if caDetail == "" {
		result.add("consistent_ca", CheckPass, "")
	} else {
		result.add("consistent_ca", CheckFail, caDetail)
	}

	var prevTime time.Time
	tsDetail, allParsed := "", true
	for i, e := range entries {
		ts, err := parseTimestamp(e.CreatedAt)
		if err != nil {
			allParsed = false
			continue
		}
		if !prevTime.IsZero() && ts.Before(prevTime) {
			tsDetail = fmt.Sprintf("entry %d (created_at=%s) is earlier than entry %d", i, e.CreatedAt, i-1)
			break
		}
		prevTime = ts
	}
	switch {
	case tsDetail != "":
		result.add("monotonic_timestamps", CheckWarn, tsDetail)
	case !allParsed:
		result.add("monotonic_timestamps", CheckWarn, "some timestamps could not be parsed")
	default:
		result.add("monotonic_timestamps", CheckPass, "")
	}

	return result
}

// parseTimestamp parses RFC3339Nano, falling back to RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}
