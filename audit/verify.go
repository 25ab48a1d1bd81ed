package audit

import (
	"context"
	"fmt"

	"github.com/warp/books-engine/core"
)

// =============================================================================
// VERIFICATION
// =============================================================================

// Report is the outcome of a chain walk.
type Report struct {
	Valid    bool
	Records  int    // records checked
	Head     string // chain hash of the last valid record
	BrokenAt int64  // first failing record ID, 0 when valid
	Reason   string
}

// Err returns an *IntegrityError for an invalid report, nil otherwise.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{Op: "verify", RecordID: r.BrokenAt, Reason: r.Reason}
}

// Verify walks the chain from genesis, recomputing every hash with the
// production ComputeFunc. A broken link is reported in the Report; the
// error is reserved for storage failures.
func (c *Chain) Verify(ctx context.Context, q core.Querier) (Report, error) {
	records, err := queryRecords(ctx, q, "ORDER BY id")
	if err != nil {
		return Report{}, err
	}

	report := Report{Valid: true, Head: GenesisHash}
	previous := GenesisHash
	for _, rec := range records {
		report.Records++

		if reason := checkRecord(rec, previous); reason != "" {
			report.Valid = false
			report.BrokenAt = rec.ID
			report.Reason = reason
			return report, nil
		}
		previous = rec.ChainHash
		report.Head = rec.ChainHash
	}
	return report, nil
}

func checkRecord(rec Record, previous string) string {
	if rec.PreviousHash != previous {
		return fmt.Sprintf("previous_hash %s does not match preceding chain_hash %s", short(rec.PreviousHash), short(previous))
	}
	content, chain, _ := ComputeHashes(rec.PreviousHash, rec.Payload, rec.Metadata())
	if rec.ContentHash != content {
		return "content_hash does not match payload"
	}
	if rec.ChainHash != chain {
		return "chain_hash does not match record"
	}
	return ""
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// =============================================================================
// QUERIES
// =============================================================================

// Records returns up to limit records with ID greater than afterID, oldest
// first. A non-positive limit means 100.
func (c *Chain) Records(ctx context.Context, q core.Querier, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryRecords(ctx, q, "WHERE id > ? ORDER BY id LIMIT ?", afterID, limit)
}

// ForEntity returns the records about one entity, oldest first.
func (c *Chain) ForEntity(ctx context.Context, q core.Querier, table, id string) ([]Record, error) {
	return queryRecords(ctx, q, "WHERE entity_table = ? AND entity_id = ? ORDER BY id", table, id)
}

func queryRecords(ctx context.Context, q core.Querier, tail string, args ...any) ([]Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, event_type, entity_table, entity_id, user_id,
			payload, content_hash, previous_hash, chain_hash, created_at
		FROM audit_log `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var payload string
		if err := rows.Scan(&r.ID, &r.EventID, &r.EventType, &r.EntityTable, &r.EntityID, &r.UserID,
			&payload, &r.ContentHash, &r.PreviousHash, &r.ChainHash, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Payload = []byte(payload)
		records = append(records, r)
	}
	return records, rows.Err()
}
