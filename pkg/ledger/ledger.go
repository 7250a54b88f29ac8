package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/internal/db"
	"github.com/custodes-trust/custodes/internal/telemetry"
	"github.com/custodes-trust/custodes/pkg/faults"
	"github.com/custodes-trust/custodes/pkg/hashchain"
)

const genesisHash = hashchain.GenesisHash

// Signer signs arbitrary ledger material (Merkle roots, evidence packages).
// The concrete implementation is keyed by LedgerSigningKeyPEM; a deployment
// that wants RS256/ed25519 signatures swaps this implementation without
// touching Ledger.
type Signer interface {
	Sign(data string) (string, error)
}

// HMACSigner is the default Signer: HMAC-SHA256 over the signed material,
// hex-encoded. Simple, symmetric, and adequate for a single-deployment
// signing key; deployments distributing the verification key to third
// parties should supply an asymmetric Signer instead.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer from the configured key material.
func NewHMACSigner(key string) *HMACSigner {
	return &HMACSigner{key: []byte(key)}
}

func (s *HMACSigner) Sign(data string) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Ledger is Obsidian: the append-only, hash-chained audit ledger.
type Ledger struct {
	store       *Store
	beginTx     db.Transactor
	signer      Signer
	instanceID  string
	blockSize   int
	logger      *slog.Logger

	mu      sync.Mutex // guards the in-flight Merkle buffer; single-writer per instance
	buffer  []Entry
}

// New creates a Ledger. beginTx is used to wrap Commit's index-reservation +
// append in one transaction; blockSize is the Merkle sealing threshold
// (default 100).
func New(store *Store, beginTx db.Transactor, signer Signer, instanceID string, blockSize int, logger *slog.Logger) *Ledger {
	if blockSize <= 0 {
		blockSize = 100
	}
	return &Ledger{
		store:      store,
		beginTx:    beginTx,
		signer:     signer,
		instanceID: instanceID,
		blockSize:  blockSize,
		logger:     logger,
	}
}

func hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Commit atomically reserves the next block_index, computes the entry's
// hashes against the latest committed block_hash, and appends it. A crashed
// or cancelled commit never reserves an index without also appending: the
// index reservation and the insert run in the same transaction.
func (l *Ledger) Commit(ctx context.Context, req CommitEventRequest) (CommitResult, error) {
	severity := req.Severity
	if severity == "" {
		severity = DefaultSeverity(req.EventType)
	}

	tx, err := l.beginTx.Begin(ctx)
	if err != nil {
		return CommitResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	txStore := l.store.WithTx(tx)

	blockIndex, err := txStore.ReserveBlockIndex(ctx)
	if err != nil {
		return CommitResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	prevHash, err := txStore.LatestBlockHash(ctx)
	if err != nil {
		return CommitResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	entryID := uuid.New()
	hcEntry := hashchain.Entry{
		EntryID:       entryID.String(),
		BlockIndex:    blockIndex,
		EventType:     req.EventType,
		Severity:      string(severity),
		SubjectID:     orDash(req.SubjectID),
		PassportID:    orDash(req.PassportID),
		InstitutionID: orDash(req.InstitutionID),
		TargetID:      orDash(req.TargetID),
		TargetType:    orDash(req.TargetType),
		Metadata:      req.Metadata,
		IPHash:        orDash(hashIP(req.IP)),
		Region:        orDash(req.Region),
		Timestamp:     now.Format(time.RFC3339Nano),
		Sequence:      blockIndex,
	}

	payloadHash := hashchain.PayloadHash(hcEntry)
	blockHash := hashchain.BlockHash(payloadHash, prevHash, blockIndex)

	entry := Entry{
		EntryID:       entryID,
		BlockIndex:    blockIndex,
		EventType:     req.EventType,
		Severity:      severity,
		SubjectID:     req.SubjectID,
		PassportID:    req.PassportID,
		InstitutionID: req.InstitutionID,
		TargetID:      req.TargetID,
		TargetType:    req.TargetType,
		Metadata:      req.Metadata,
		IPHash:        hashIP(req.IP),
		Region:        req.Region,
		Timestamp:     now,
		Sequence:      blockIndex,
		PrevHash:      prevHash,
		PayloadHash:   payloadHash,
		BlockHash:     blockHash,
	}

	if err := txStore.AppendEntry(ctx, entry); err != nil {
		return CommitResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return CommitResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	committed = true

	telemetry.LedgerEntriesTotal.WithLabelValues(req.EventType, string(severity)).Inc()

	l.bufferEntry(ctx, entry)

	return CommitResult{
		EntryID:    entry.EntryID,
		BlockIndex: entry.BlockIndex,
		BlockHash:  entry.BlockHash,
		Timestamp:  entry.Timestamp,
	}, nil
}

// bufferEntry appends the freshly committed entry to the in-flight Merkle
// buffer and seals once it reaches blockSize.
func (l *Ledger) bufferEntry(ctx context.Context, e Entry) {
	l.mu.Lock()
	l.buffer = append(l.buffer, e)
	shouldSeal := len(l.buffer) >= l.blockSize
	l.mu.Unlock()

	if shouldSeal {
		if err := l.SealBlock(ctx); err != nil {
			l.logger.Error("sealing merkle block", "error", err)
		}
	}
}

// SealBlock builds the Merkle tree over the buffered leaves, signs the root,
// persists the MerkleBlock, back-annotates every member entry, and clears
// the buffer.
func (l *Ledger) SealBlock(ctx context.Context) error {
	l.mu.Lock()
	batch := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { telemetry.LedgerSealDuration.Observe(time.Since(start).Seconds()) }()

	sort.Slice(batch, func(i, j int) bool { return batch[i].BlockIndex < batch[j].BlockIndex })
	leaves := make([]string, len(batch))
	for i, e := range batch {
		leaves[i] = e.BlockHash
	}

	tree := hashchain.BuildMerkle(leaves)
	root := tree.Root()

	sig, err := l.signer.Sign(root)
	if err != nil {
		return faults.NewChainFault(faults.ChainSealFailed, batch[0].BlockIndex, err.Error())
	}

	blockNum, err := l.store.NextBlockNumber(ctx)
	if err != nil {
		return faults.NewChainFault(faults.ChainSealFailed, batch[0].BlockIndex, err.Error())
	}

	block := MerkleBlock{
		BlockNumber: blockNum,
		EntryStart:  batch[0].BlockIndex,
		EntryEnd:    batch[len(batch)-1].BlockIndex,
		Leaves:      leaves,
		MerkleRoot:  root,
		SealedAt:    time.Now().UTC(),
		SealedBy:    l.instanceID,
		Signature:   sig,
	}

	if err := l.store.SaveMerkleBlock(ctx, block); err != nil {
		return faults.NewChainFault(faults.ChainSealFailed, batch[0].BlockIndex, err.Error())
	}
	return nil
}

// RecoverSealer loads any entries with block_index beyond the last sealed
// block and re-buffers them, so a crashed sealer resumes cleanly at startup.
func (l *Ledger) RecoverSealer(ctx context.Context) error {
	entries, err := l.store.UnsealedEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading unsealed entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	l.buffer = append(l.buffer, entries...)
	shouldSeal := len(l.buffer) >= l.blockSize
	l.mu.Unlock()
	l.logger.Info("ledger sealer recovered unsealed entries", "count", len(entries))
	if shouldSeal {
		return l.SealBlock(ctx)
	}
	return nil
}

// Query runs a filtered, paginated read.
func (l *Ledger) Query(ctx context.Context, f Filter) (QueryResult, error) {
	entries, total, err := l.store.Query(ctx, f)
	if err != nil {
		return QueryResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	var from, to int64
	if len(entries) > 0 {
		to = entries[0].BlockIndex
		from = entries[len(entries)-1].BlockIndex
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|%v|%d|%d", f.SubjectID, f.TargetID, f.InstitutionID, f.EventTypes, f.Severities, f.From.Unix(), f.To.Unix())

	return QueryResult{
		Entries:   entries,
		Total:     total,
		FromBlock: from,
		ToBlock:   to,
		QueryHash: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func toHashed(e Entry) hashchain.Hashed {
	return hashchain.Hashed{
		Entry: hashchain.Entry{
			EntryID:       e.EntryID.String(),
			BlockIndex:    e.BlockIndex,
			EventType:     e.EventType,
			Severity:      string(e.Severity),
			SubjectID:     orDash(e.SubjectID),
			PassportID:    orDash(e.PassportID),
			InstitutionID: orDash(e.InstitutionID),
			TargetID:      orDash(e.TargetID),
			TargetType:    orDash(e.TargetType),
			Metadata:      e.Metadata,
			IPHash:        orDash(e.IPHash),
			Region:        orDash(e.Region),
			Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
			Sequence:      e.Sequence,
		},
		PrevHash: e.PrevHash,
		PayloadH: e.PayloadHash,
		BlockH:   e.BlockHash,
	}
}

// VerifyChainRange fetches every entry in [from, to] and verifies the chain.
func (l *Ledger) VerifyChainRange(ctx context.Context, from, to int64) VerifyRangeResult {
	entries, err := l.store.EntriesInRange(ctx, from, to)
	if err != nil {
		return VerifyRangeResult{Err: faults.NewTransportFault(faults.TransportUpstream, err)}
	}

	hashed := make([]hashchain.Hashed, len(entries))
	for i, e := range entries {
		hashed[i] = toHashed(e)
	}

	valid, firstInvalid, err := hashchain.VerifyChain(hashed)
	return VerifyRangeResult{
		Valid:           valid,
		FirstInvalidBlk: firstInvalid,
		EntriesChecked:  len(entries),
		Err:             err,
	}
}

// GenerateEvidencePackage collects every entry related to id (by target_id),
// builds a Merkle tree over their block_hash leaves, issues a proof per
// entry, and signs the package.
func (l *Ledger) GenerateEvidencePackage(ctx context.Context, kind, id string) (EvidencePackage, error) {
	entries, err := l.store.EntriesByTarget(ctx, id)
	if err != nil {
		return EvidencePackage{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	if len(entries) == 0 {
		return EvidencePackage{}, faults.NewChainFault(faults.ChainMissingEntry, 0, "no entries related to "+id)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].BlockIndex < entries[j].BlockIndex })
	leaves := make([]string, len(entries))
	for i, e := range entries {
		leaves[i] = e.BlockHash
	}
	tree := hashchain.BuildMerkle(leaves)
	root := tree.Root()

	pkgID := uuid.New()
	now := time.Now().UTC()
	signed := fmt.Sprintf("%s|%s|%s|%s|%s|%d", pkgID, kind, id, root, now.Format(time.RFC3339Nano), len(entries))
	sig, err := l.signer.Sign(signed)
	if err != nil {
		return EvidencePackage{}, faults.NewChainFault(faults.ChainEvidenceSignFailed, 0, err.Error())
	}

	proofs := make(map[uuid.UUID][]string, len(entries))
	for i, e := range entries {
		p, err := hashchain.Proof(i, tree)
		if err != nil {
			return EvidencePackage{}, faults.NewChainFault(faults.ChainEvidenceSignFailed, e.BlockIndex, err.Error())
		}
		proofs[e.EntryID] = p
	}

	return EvidencePackage{
		PackageID:  pkgID,
		Kind:       kind,
		RelatedID:  id,
		EntryCount: len(entries),
		MerkleRoot: root,
		Entries:    entries,
		Proofs:     proofs,
		Signature:  sig,
		CreatedAt:  now,
	}, nil
}

