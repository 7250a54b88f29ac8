// Package hashchain implements the pure, non-suspending primitives behind
// the ledger's append-only hash chain and Merkle sealing: canonicalization,
// payload/block hashing, chain verification, and Merkle tree construction
// and proof verification. Nothing in this package touches a store; Ledger
// wires these functions to durable state.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GenesisHash is the prev_hash of the first entry in any chain: 64 zero hex chars.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const sentinel = "-"

// Entry is the minimal set of fields hashchain needs to canonicalize and
// chain a ledger entry. Ledger's own entry type carries additional fields
// (timestamps formatting, structured metadata) and converts to this shape.
type Entry struct {
	EntryID       string
	BlockIndex    int64
	EventType     string
	Severity      string
	SubjectID     string
	PassportID    string // sentinel "-" if absent
	InstitutionID string // sentinel "-" if absent
	TargetID      string // sentinel "-" if absent
	TargetType    string // sentinel "-" if absent
	Metadata      map[string]string
	IPHash        string
	Region        string // sentinel "-" if absent
	Timestamp     string // RFC3339Nano, caller-formatted for determinism
	Sequence      int64
}

func orSentinel(s string) string {
	if s == "" {
		return sentinel
	}
	return s
}

// Canonicalize produces a deterministic string form of e covering every
// non-hash field in a fixed order. Metadata keys are sorted so map iteration
// order never affects the result.
func Canonicalize(e Entry) string {
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var meta strings.Builder
	for i, k := range keys {
		if i > 0 {
			meta.WriteByte(',')
		}
		meta.WriteString(k)
		meta.WriteByte('=')
		meta.WriteString(e.Metadata[k])
	}

	fields := []string{
		e.EntryID,
		strconv.FormatInt(e.BlockIndex, 10),
		e.EventType,
		e.Severity,
		orSentinel(e.SubjectID),
		orSentinel(e.PassportID),
		orSentinel(e.InstitutionID),
		orSentinel(e.TargetID),
		orSentinel(e.TargetType),
		meta.String(),
		orSentinel(e.IPHash),
		orSentinel(e.Region),
		e.Timestamp,
		strconv.FormatInt(e.Sequence, 10),
	}
	return strings.Join(fields, "|")
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PayloadHash computes SHA-256 over the canonical form of e.
func PayloadHash(e Entry) string {
	return sha256Hex(Canonicalize(e))
}

// BlockHash computes SHA-256(payloadHash ":" prevHash ":" decimal(blockIndex)).
func BlockHash(payloadHash, prevHash string, blockIndex int64) string {
	return sha256Hex(payloadHash + ":" + prevHash + ":" + strconv.FormatInt(blockIndex, 10))
}

// Hashed is a chained entry with its computed hashes attached, as stored.
type Hashed struct {
	Entry
	PrevHash   string
	PayloadH   string
	BlockH     string
}

// VerifyChain sorts entries by BlockIndex and recomputes payload_hash and
// block_hash for each, checking that entry i's PrevHash matches entry i-1's
// BlockH. Returns whether the whole range is valid and the index (BlockIndex)
// of the first offending entry, if any.
func VerifyChain(entries []Hashed) (valid bool, firstInvalidBlock int64, err error) {
	if len(entries) == 0 {
		return true, 0, nil
	}

	sorted := make([]Hashed, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockIndex < sorted[j].BlockIndex })

	for i, e := range sorted {
		wantPayload := PayloadHash(e.Entry)
		if wantPayload != e.PayloadH {
			return false, e.BlockIndex, nil
		}
		wantBlock := BlockHash(wantPayload, e.PrevHash, e.BlockIndex)
		if wantBlock != e.BlockH {
			return false, e.BlockIndex, nil
		}
		if i == 0 {
			continue
		}
		if e.PrevHash != sorted[i-1].BlockH {
			return false, e.BlockIndex, nil
		}
	}
	return true, 0, nil
}

// Tree is a bottom-up pairwise SHA-256 Merkle tree. Levels[0] is the leaf
// level; the last level holds a single root hash.
type Tree struct {
	Levels [][]string
}

// BuildMerkle constructs a standard pairwise SHA-256 Merkle tree over the
// given leaf hashes (already hex-encoded hashes, not raw data — hashchain's
// callers pass block_hash values as leaves). An odd-length level duplicates
// its last node. An empty leaf set produces a zero root.
func BuildMerkle(leaves []string) Tree {
	if len(leaves) == 0 {
		return Tree{Levels: [][]string{{GenesisHash}}}
	}

	level := make([]string, len(leaves))
	copy(level, leaves)
	tree := Tree{Levels: [][]string{level}}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = sha256Hex(level[i] + level[i+1])
		}
		tree.Levels = append(tree.Levels, next)
		level = next
	}
	return tree
}

// Root returns the tree's root hash.
func (t Tree) Root() string {
	top := t.Levels[len(t.Levels)-1]
	return top[0]
}

// Proof returns the sibling-path hashes for the leaf at index i, ordered
// from the leaf level upward.
func Proof(i int, t Tree) ([]string, error) {
	if i < 0 || i >= len(t.Levels[0]) {
		return nil, fmt.Errorf("leaf index %d out of range", i)
	}

	path := make([]string, 0, len(t.Levels)-1)
	idx := i
	for lvl := 0; lvl < len(t.Levels)-1; lvl++ {
		level := t.Levels[lvl]
		var sibling int
		if idx%2 == 0 {
			sibling = idx + 1
		} else {
			sibling = idx - 1
		}
		if sibling >= len(level) {
			sibling = idx
		}
		path = append(path, level[sibling])
		idx /= 2
	}
	return path, nil
}

// VerifyProof replays path upward from leaf at index against root.
func VerifyProof(leaf string, index int, path []string, root string) bool {
	hash := leaf
	idx := index
	for _, sibling := range path {
		if idx%2 == 0 {
			hash = sha256Hex(hash + sibling)
		} else {
			hash = sha256Hex(sibling + hash)
		}
		idx /= 2
	}
	return hash == root
}
