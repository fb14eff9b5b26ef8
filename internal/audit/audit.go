// Package audit is the append-only, hash-chained audit log (C7, spec
// §4.7). Every calculation performed by the core is recorded here before
// it is returned to a caller; there is deliberately no update or delete
// method anywhere in this package, only Append, Get, and Verify.
//
// The content/chain hash scheme is grounded on
// original_source/backend/models/audit_trail.py's AuditTrailManager
// (content_hash over a sorted-key JSON snapshot, chain_hash linking to the
// previous record's content_hash). The entry shape — a flat struct
// hashed via canonical json.Marshal field order, never a map[string]any —
// follows other_examples/ppiankov-chainwatch's AuditEntry.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffserrors"
)

// Store is the persistence boundary for the audit log. Both implementations
// in this package (and any future one) must make Append atomic with
// respect to "what was the previous chain hash for this calculation id" —
// a race there would silently fork the chain.
type Store interface {
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	Get(ctx context.Context, calculationId string) (domain.AuditEntry, error)
	Verify(ctx context.Context, from, to time.Time) (VerifyResult, error)
}

// VerifyResult summarizes a chain-integrity sweep over a time range.
type VerifyResult struct {
	RecordsChecked int
	Valid          bool
	Breaks         []string
}

// hashableContent mirrors AuditTrailManager._calculate_content_hash's
// field set: the immutable fields of one entry, marshaled with sorted,
// deterministic field order so the same logical content always hashes
// identically.
type hashableContent struct {
	CalculationId string `json:"calculation_id"`
	PerformedAt   string `json:"performed_at"`
	Performer     string `json:"performer"`
	InputHash     string `json:"input_hash"`
	OutputHash    string `json:"output_hash"`
	PrevChainHash string `json:"prev_chain_hash"`
	SoftwareVer   string `json:"software_version"`
	CalcMethodVer string `json:"calculation_method_version"`
}

// ContentHash computes the SHA-256 content hash of an entry's immutable
// fields, independent of its own chain hash (which is derived from this
// value, not folded into it).
func ContentHash(e domain.AuditEntry) string {
	content := hashableContent{
		CalculationId: e.CalculationId,
		PerformedAt:   e.PerformedAt.UTC().Format(time.RFC3339Nano),
		Performer:     e.Performer,
		InputHash:     e.InputHash,
		OutputHash:    e.OutputHash,
		PrevChainHash: e.PrevChainHash,
		SoftwareVer:   e.SoftwareVersion,
		CalcMethodVer: e.CalculationMethodVersion,
	}
	b, err := json.Marshal(content)
	if err != nil {
		// hashableContent has no unmarshalable field; this cannot happen.
		panic(fmt.Sprintf("audit: marshal content hash: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ChainHash folds an entry's own content hash together with the previous
// record's chain hash, so tampering with any earlier record changes every
// chain hash after it.
func ChainHash(contentHash, prevChainHash string) string {
	sum := sha256.Sum256([]byte(prevChainHash + ":" + contentHash))
	return hex.EncodeToString(sum[:])
}

// CanonicalHash produces a deterministic SHA-256 hash of an arbitrary
// JSON-shaped value, sorting map keys before hashing, used by the
// Orchestrator to compute InputHash/OutputHash over the job input and
// CalculationResult before calling Append.
func CanonicalHash(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", ffserrors.Internal("canonical hash normalization", err)
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", ffserrors.Internal("canonical hash marshal", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// normalize round-trips v through JSON to get a map[string]any/[]any tree
// with predictable key ordering applied at marshal time by sortedMap.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return sortedMap(generic), nil
}

// sortedMap rewrites a decoded JSON tree so that objects are represented
// as ordered key/value slices, guaranteeing Marshal always produces the
// same byte sequence for the same logical content regardless of the
// source map's iteration order.
func sortedMap(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]keyValue, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, keyValue{Key: k, Value: sortedMap(t[k])})
		}
		return orderedObject(ordered)
	case []any:
		for i, e := range t {
			t[i] = sortedMap(e)
		}
		return t
	default:
		return v
	}
}

type keyValue struct {
	Key   string
	Value any
}

func (kv keyValue) MarshalJSON() ([]byte, error) {
	valueBytes, err := json.Marshal(kv.Value)
	if err != nil {
		return nil, err
	}
	keyBytes, err := json.Marshal(kv.Key)
	if err != nil {
		return nil, err
	}
	return append(append(append([]byte{}, keyBytes...), ':'), valueBytes...), nil
}

// orderedObject marshals its key/value pairs as one JSON object, keys in
// slice order. A keyValue alone is an object member, not a JSON value.
type orderedObject []keyValue

func (o orderedObject) MarshalJSON() ([]byte, error) {
	out := []byte{'{'}
	for i, kv := range o {
		if i > 0 {
			out = append(out, ',')
		}
		member, err := kv.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, member...)
	}
	return append(out, '}'), nil
}

// MemoryStore is an in-process Store, used by tests and by cmd/ffscore's
// demo run. A mutex serializes Append, Get and Verify, so concurrent
// Assess calls sharing one store each chain onto the entry appended just
// before them.
type MemoryStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Id == uuid.Nil {
		entry.Id = uuid.New()
	}
	prevChainHash := ""
	if len(s.entries) > 0 {
		prevChainHash = s.entries[len(s.entries)-1].ChainHash
	}
	entry.PrevChainHash = prevChainHash
	entry.ContentHash = ContentHash(entry)
	entry.ChainHash = ChainHash(entry.ContentHash, prevChainHash)
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *MemoryStore) Get(ctx context.Context, calculationId string) (domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.CalculationId == calculationId {
			return e, nil
		}
	}
	return domain.AuditEntry{}, ffserrors.InputInvalid(fmt.Sprintf("no audit entry for calculation id %q", calculationId))
}

func (s *MemoryStore) Verify(ctx context.Context, from, to time.Time) (VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := VerifyResult{Valid: true}
	prevChainHash := ""
	first := true
	for _, e := range s.entries {
		if e.PerformedAt.Before(from) || e.PerformedAt.After(to) {
			continue
		}
		if first {
			// The first record in range links to one outside it; its own
			// recorded prev hash, covered by its content hash, is the anchor.
			prevChainHash = e.PrevChainHash
			first = false
		}
		result.RecordsChecked++
		expectedContent := ContentHash(e)
		if expectedContent != e.ContentHash {
			result.Valid = false
			result.Breaks = append(result.Breaks, fmt.Sprintf("%s: content hash mismatch", e.CalculationId))
			// The chain anchor for the next record is this record's
			// recorded chain hash, tampered content notwithstanding — a
			// content-only edit must not cascade into false chain-hash
			// mismatches on every untouched record that follows.
			prevChainHash = e.ChainHash
			continue
		}
		expectedChain := ChainHash(expectedContent, prevChainHash)
		if expectedChain != e.ChainHash {
			result.Valid = false
			result.Breaks = append(result.Breaks, fmt.Sprintf("%s: chain hash mismatch", e.CalculationId))
		}
		prevChainHash = e.ChainHash
	}
	return result, nil
}

// PostgresStore persists audit entries to Postgres via lib/pq, adapted
// from the teacher's PostgresUserRepository (internal/repo/repo.go):
// a thin struct wrapping *sql.DB, one parameterized query per method, no
// ORM layer in between.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertAuditEntryQuery = `
INSERT INTO audit_entries (
	id, calculation_id, performed_at, performer, input_hash, output_hash,
	content_hash, chain_hash, prev_chain_hash, software_version, calculation_method_version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const selectPrevChainHashQuery = `
SELECT chain_hash FROM audit_entries ORDER BY performed_at DESC LIMIT 1
`

func (s *PostgresStore) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if entry.Id == uuid.Nil {
		entry.Id = uuid.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AuditEntry{}, ffserrors.Internal("audit append: begin transaction", err)
	}
	defer tx.Rollback()

	// Serialize appenders so no two read the same previous chain hash.
	if _, err := tx.ExecContext(ctx, `LOCK TABLE audit_entries IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return domain.AuditEntry{}, ffserrors.Internal("audit append: lock table", err)
	}

	var prevChainHash string
	row := tx.QueryRowContext(ctx, selectPrevChainHashQuery)
	if err := row.Scan(&prevChainHash); err != nil && err != sql.ErrNoRows {
		return domain.AuditEntry{}, ffserrors.Internal("audit append: read previous chain hash", err)
	}

	entry.PrevChainHash = prevChainHash
	entry.ContentHash = ContentHash(entry)
	entry.ChainHash = ChainHash(entry.ContentHash, prevChainHash)

	_, err = tx.ExecContext(ctx, insertAuditEntryQuery,
		entry.Id, entry.CalculationId, entry.PerformedAt, entry.Performer,
		entry.InputHash, entry.OutputHash, entry.ContentHash, entry.ChainHash,
		entry.PrevChainHash, entry.SoftwareVersion, entry.CalculationMethodVersion,
	)
	if err != nil {
		return domain.AuditEntry{}, ffserrors.Internal("audit append: insert", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.AuditEntry{}, ffserrors.Internal("audit append: commit", err)
	}
	return entry, nil
}

const selectByCalculationIdQuery = `
SELECT id, calculation_id, performed_at, performer, input_hash, output_hash,
       content_hash, chain_hash, prev_chain_hash, software_version, calculation_method_version
FROM audit_entries WHERE calculation_id = $1
`

func (s *PostgresStore) Get(ctx context.Context, calculationId string) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	row := s.db.QueryRowContext(ctx, selectByCalculationIdQuery, calculationId)
	err := row.Scan(
		&e.Id, &e.CalculationId, &e.PerformedAt, &e.Performer, &e.InputHash, &e.OutputHash,
		&e.ContentHash, &e.ChainHash, &e.PrevChainHash, &e.SoftwareVersion, &e.CalculationMethodVersion,
	)
	if err == sql.ErrNoRows {
		return domain.AuditEntry{}, ffserrors.InputInvalid(fmt.Sprintf("no audit entry for calculation id %q", calculationId))
	}
	if err != nil {
		return domain.AuditEntry{}, ffserrors.Internal("audit get", err)
	}
	return e, nil
}

const selectRangeQuery = `
SELECT id, calculation_id, performed_at, performer, input_hash, output_hash,
       content_hash, chain_hash, prev_chain_hash, software_version, calculation_method_version
FROM audit_entries WHERE performed_at >= $1 AND performed_at <= $2 ORDER BY performed_at ASC
`

func (s *PostgresStore) Verify(ctx context.Context, from, to time.Time) (VerifyResult, error) {
	rows, err := s.db.QueryContext(ctx, selectRangeQuery, from, to)
	if err != nil {
		return VerifyResult{}, ffserrors.Internal("audit verify: query range", err)
	}
	defer rows.Close()

	result := VerifyResult{Valid: true}
	prevChainHash := ""
	first := true
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.Id, &e.CalculationId, &e.PerformedAt, &e.Performer, &e.InputHash, &e.OutputHash,
			&e.ContentHash, &e.ChainHash, &e.PrevChainHash, &e.SoftwareVersion, &e.CalculationMethodVersion,
		); err != nil {
			return VerifyResult{}, ffserrors.Internal("audit verify: scan row", err)
		}
		if first {
			prevChainHash = e.PrevChainHash
			first = false
		}
		result.RecordsChecked++
		expectedContent := ContentHash(e)
		if expectedContent != e.ContentHash {
			result.Valid = false
			result.Breaks = append(result.Breaks, fmt.Sprintf("%s: content hash mismatch", e.CalculationId))
			prevChainHash = e.ChainHash
			continue
		}
		expectedChain := ChainHash(expectedContent, prevChainHash)
		if expectedChain != e.ChainHash {
			result.Valid = false
			result.Breaks = append(result.Breaks, fmt.Sprintf("%s: chain hash mismatch", e.CalculationId))
		}
		prevChainHash = e.ChainHash
	}
	if err := rows.Err(); err != nil {
		return VerifyResult{}, ffserrors.Internal("audit verify: row iteration", err)
	}
	return result, nil
}
