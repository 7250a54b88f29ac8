package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/internal/db"
)

// Store persists ledger entries, Merkle blocks, and disputes. Entries are
// append-only: the `entries` table carries a DB-level trigger rejecting
// DELETE and any UPDATE other than back-annotating merkle_root (see
// migrations). The Go layer issues no DELETE, and its only UPDATE is the
// merkle_root back-annotation in SaveMerkleBlock.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store backed by dbtx (a pool, connection, or tx).
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

// WithTx returns a Store bound to the given transaction, for callers that
// need ReserveBlockIndex and AppendEntry to commit atomically together.
func (s *Store) WithTx(tx db.DBTX) *Store {
	return &Store{db: tx}
}

// ReserveBlockIndex atomically increments and returns the next block_index
// from the single ledger_sequence row, process-safe and atomic across
// replicas. Must run inside the same transaction as the subsequent
// AppendEntry so a crash between the two never skips an index.
func (s *Store) ReserveBlockIndex(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRow(ctx, `
		UPDATE ledger_sequence SET value = value + 1 WHERE id = 1
		RETURNING value
	`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("reserving block index: %w", err)
	}
	return next, nil
}

// LatestBlockHash returns the block_hash of the highest-indexed entry, or
// hashchain.GenesisHash if the ledger is empty.
func (s *Store) LatestBlockHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRow(ctx, `
		SELECT block_hash FROM entries ORDER BY block_index DESC LIMIT 1
	`).Scan(&hash)
	if err != nil {
		if isNoRows(err) {
			return genesisHash, nil
		}
		return "", fmt.Errorf("reading latest block hash: %w", err)
	}
	return hash, nil
}

// AppendEntry inserts a fully-computed entry. Never called outside a
// transaction that already reserved its BlockIndex.
func (s *Store) AppendEntry(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO entries (
			entry_id, block_index, event_type, severity, subject_id, passport_id,
			institution_id, target_id, target_type, metadata, ip_hash, region,
			occurred_at, sequence, prev_hash, payload_hash, block_hash, merkle_root
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, e.EntryID, e.BlockIndex, e.EventType, string(e.Severity), e.SubjectID, e.PassportID,
		e.InstitutionID, e.TargetID, e.TargetType, meta, e.IPHash, e.Region,
		e.Timestamp, e.Sequence, e.PrevHash, e.PayloadHash, e.BlockHash, nullIfEmpty(e.MerkleRoot))
	if err != nil {
		return fmt.Errorf("appending entry: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const entryColumns = `entry_id, block_index, event_type, severity, subject_id, passport_id,
	institution_id, target_id, target_type, metadata, ip_hash, region, occurred_at,
	sequence, prev_hash, payload_hash, block_hash, coalesce(merkle_root, '')`

func scanEntry(row interface {
	Scan(dest ...any) error
}) (Entry, error) {
	var e Entry
	var meta []byte
	if err := row.Scan(
		&e.EntryID, &e.BlockIndex, &e.EventType, &e.Severity, &e.SubjectID, &e.PassportID,
		&e.InstitutionID, &e.TargetID, &e.TargetType, &meta, &e.IPHash, &e.Region, &e.Timestamp,
		&e.Sequence, &e.PrevHash, &e.PayloadHash, &e.BlockHash, &e.MerkleRoot,
	); err != nil {
		return Entry{}, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &e.Metadata)
	}
	return e, nil
}

// Query runs a filtered, paginated read over entries.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.SubjectID != "" {
		where = append(where, "subject_id = "+arg(f.SubjectID))
	}
	if f.TargetID != "" {
		where = append(where, "target_id = "+arg(f.TargetID))
	}
	if f.InstitutionID != "" {
		where = append(where, "institution_id = "+arg(f.InstitutionID))
	}
	if len(f.EventTypes) > 0 {
		where = append(where, "event_type = ANY("+arg(f.EventTypes)+")")
	}
	if len(f.Severities) > 0 {
		sevs := make([]string, len(f.Severities))
		for i, sv := range f.Severities {
			sevs[i] = string(sv)
		}
		where = append(where, "severity = ANY("+arg(sevs)+")")
	}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at <= "+arg(f.To))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countSQL := "SELECT count(*) FROM entries " + whereSQL
	if err := s.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 25
	}
	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	pageSQL := fmt.Sprintf(`SELECT %s FROM entries %s ORDER BY block_index DESC LIMIT $%d OFFSET $%d`,
		entryColumns, whereSQL, len(pageArgs)-1, len(pageArgs))

	rows, err := s.db.Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// EntriesInRange returns every entry with block_index in [from, to], ordered
// ascending, for chain verification.
func (s *Store) EntriesInRange(ctx context.Context, from, to int64) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE block_index >= $1 AND block_index <= $2
		ORDER BY block_index ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading range: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntriesByTarget returns every entry whose target_id matches id, ascending
// by block_index — used to assemble a job's dispute evidence and evidence
// packages.
func (s *Store) EntriesByTarget(ctx context.Context, targetID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+` FROM entries WHERE target_id = $1 ORDER BY block_index ASC
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("reading entries by target: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnsealedEntries returns entries with block_index beyond the last sealed
// block's EntryEnd, in ascending order — used by sealer recovery at startup.
func (s *Store) UnsealedEntries(ctx context.Context) ([]Entry, error) {
	var lastEnd int64
	err := s.db.QueryRow(ctx, `SELECT coalesce(max(entry_end), -1) FROM merkle_blocks`).Scan(&lastEnd)
	if err != nil {
		return nil, fmt.Errorf("reading last sealed end: %w", err)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+` FROM entries WHERE block_index > $1 ORDER BY block_index ASC
	`, lastEnd)
	if err != nil {
		return nil, fmt.Errorf("reading unsealed entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveMerkleBlock persists a sealed block and back-annotates every member
// entry's merkle_root.
func (s *Store) SaveMerkleBlock(ctx context.Context, b MerkleBlock) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO merkle_blocks (block_number, entry_start, entry_end, merkle_root, sealed_at, sealed_by, signature)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, b.BlockNumber, b.EntryStart, b.EntryEnd, b.MerkleRoot, b.SealedAt, b.SealedBy, b.Signature)
	if err != nil {
		return fmt.Errorf("saving merkle block: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE entries SET merkle_root = $1 WHERE block_index >= $2 AND block_index <= $3
	`, b.MerkleRoot, b.EntryStart, b.EntryEnd)
	if err != nil {
		return fmt.Errorf("annotating merkle root: %w", err)
	}
	return nil
}

// NextBlockNumber returns the next sequential Merkle block number.
func (s *Store) NextBlockNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT coalesce(max(block_number), -1) + 1 FROM merkle_blocks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("computing next block number: %w", err)
	}
	return n, nil
}

// SaveDispute inserts or updates a dispute record.
func (s *Store) SaveDispute(ctx context.Context, d Dispute) error {
	evidenceIDs := make([]string, len(d.EvidenceEntryID))
	for i, id := range d.EvidenceEntryID {
		evidenceIDs[i] = id.String()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO disputes (dispute_id, job_id, subject_id, reason, status, outcome, refund, evidence_entry_ids, opened_at, resolved_at, resolved_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (dispute_id) DO UPDATE SET
			status = EXCLUDED.status, outcome = EXCLUDED.outcome, refund = EXCLUDED.refund,
			resolved_at = EXCLUDED.resolved_at, resolved_by = EXCLUDED.resolved_by
	`, d.DisputeID, d.JobID, d.SubjectID, string(d.Reason), string(d.Status), d.Outcome, d.Refund,
		evidenceIDs, d.OpenedAt, d.ResolvedAt, d.ResolvedBy)
	if err != nil {
		return fmt.Errorf("saving dispute: %w", err)
	}
	return nil
}

// GetDispute returns a dispute by ID.
func (s *Store) GetDispute(ctx context.Context, id uuid.UUID) (Dispute, error) {
	var d Dispute
	var evidenceIDs []string
	var resolvedAt *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT dispute_id, job_id, subject_id, reason, status, outcome, refund, evidence_entry_ids, opened_at, resolved_at, resolved_by
		FROM disputes WHERE dispute_id = $1
	`, id).Scan(&d.DisputeID, &d.JobID, &d.SubjectID, &d.Reason, &d.Status, &d.Outcome, &d.Refund,
		&evidenceIDs, &d.OpenedAt, &resolvedAt, &d.ResolvedBy)
	if err != nil {
		return Dispute{}, fmt.Errorf("reading dispute: %w", err)
	}
	d.ResolvedAt = resolvedAt
	for _, s := range evidenceIDs {
		if id, err := uuid.Parse(s); err == nil {
			d.EvidenceEntryID = append(d.EvidenceEntryID, id)
		}
	}
	return d, nil
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows")
}
