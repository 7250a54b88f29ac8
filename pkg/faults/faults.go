// Package faults defines the cross-pillar error taxonomy shared by Dextera,
// Aedituus, Obsidian, Atlas, and Tutela. Every pillar returns one of these
// typed errors instead of ad hoc strings so callers (HTTP handlers, other
// pillars consuming a sink interface) can branch with errors.As/Is.
package faults

import "fmt"

// IdentityKind enumerates Dextera's identity-layer failure modes.
type IdentityKind int

const (
	IdentityUnauthenticated IdentityKind = iota
	IdentityBanned
	IdentityNotFound
	IdentityInvalidProvider
	IdentityTokenExpired
	IdentityTokenInvalid
	IdentityTokenRevoked
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityUnauthenticated:
		return "unauthenticated"
	case IdentityBanned:
		return "banned"
	case IdentityNotFound:
		return "not_found"
	case IdentityInvalidProvider:
		return "invalid_provider"
	case IdentityTokenExpired:
		return "token_expired"
	case IdentityTokenInvalid:
		return "token_invalid"
	case IdentityTokenRevoked:
		return "token_revoked"
	default:
		return "unknown"
	}
}

// IdentityFault is returned by Dextera's issue/verify/revoke operations.
type IdentityFault struct {
	Kind IdentityKind
	Msg  string
}

func (f *IdentityFault) Error() string {
	if f.Msg != "" {
		return fmt.Sprintf("identity fault (%s): %s", f.Kind, f.Msg)
	}
	return fmt.Sprintf("identity fault (%s)", f.Kind)
}

// NewIdentityFault builds an IdentityFault of the given kind.
func NewIdentityFault(kind IdentityKind, msg string) *IdentityFault {
	return &IdentityFault{Kind: kind, Msg: msg}
}

// AuthorizationKind enumerates Aedituus's authorize() outcomes that are not
// a plain decision value but a hard failure of the authorize call itself.
type AuthorizationKind int

const (
	AuthorizationDenied AuthorizationKind = iota
	AuthorizationStepUpRequired
	AuthorizationReviewRequired
	AuthorizationRateLimited
)

// AuthorizationFault is returned only by authorize_or_throw; plain authorize
// always returns a AuthorizationResponse value, never this error — policy
// evaluation never throws for a deny.
type AuthorizationFault struct {
	Kind        AuthorizationKind
	Reason      string
	StepUp      string // populated when Kind == AuthorizationStepUpRequired
	RetryAfterS int    // populated when Kind == AuthorizationRateLimited
}

func (f *AuthorizationFault) Error() string {
	switch f.Kind {
	case AuthorizationStepUpRequired:
		return fmt.Sprintf("step-up required: %s", f.StepUp)
	case AuthorizationRateLimited:
		return fmt.Sprintf("rate limited, retry after %ds", f.RetryAfterS)
	case AuthorizationReviewRequired:
		return "review required"
	default:
		return fmt.Sprintf("denied: %s", f.Reason)
	}
}

// ResourceKind enumerates Atlas's node/gpu/allocation failure modes.
type ResourceKind int

const (
	ResourceNotFound ResourceKind = iota
	ResourceConflict
	ResourcePrecondition
	ResourceDiscoveryEmpty
)

// ResourceFault is returned by registry/router operations.
type ResourceFault struct {
	Kind ResourceKind
	Msg  string
}

func (f *ResourceFault) Error() string {
	names := [...]string{"not_found", "conflict", "precondition", "discovery_empty"}
	name := "unknown"
	if int(f.Kind) < len(names) {
		name = names[f.Kind]
	}
	return fmt.Sprintf("resource fault (%s): %s", name, f.Msg)
}

// NewResourceFault builds a ResourceFault of the given kind.
func NewResourceFault(kind ResourceKind, msg string) *ResourceFault {
	return &ResourceFault{Kind: kind, Msg: msg}
}

// ChainKind enumerates Obsidian's hash-chain integrity failures.
type ChainKind int

const (
	ChainSequenceGap ChainKind = iota
	ChainPrevHashMismatch
	ChainPayloadHashMismatch
	ChainMissingEntry
	ChainSealFailed
	ChainEvidenceSignFailed
)

// ChainFault surfaces from verify_chain_range and the sealer; it never
// corrupts new appends, which are always tied to the latest committed hash.
type ChainFault struct {
	Kind       ChainKind
	BlockIndex int64
	Msg        string
}

func (f *ChainFault) Error() string {
	names := [...]string{"sequence_gap", "prev_hash_mismatch", "payload_hash_mismatch", "missing_entry", "seal_failed", "evidence_sign_failed"}
	name := "unknown"
	if int(f.Kind) < len(names) {
		name = names[f.Kind]
	}
	return fmt.Sprintf("chain fault (%s) at block %d: %s", name, f.BlockIndex, f.Msg)
}

// NewChainFault builds a ChainFault of the given kind.
func NewChainFault(kind ChainKind, blockIndex int64, msg string) *ChainFault {
	return &ChainFault{Kind: kind, BlockIndex: blockIndex, Msg: msg}
}

// RuleKind enumerates Tutela's detection-rule lifecycle failures.
type RuleKind int

const (
	RuleNotFound RuleKind = iota
	RuleVersionInvalid
	RuleConfigMalformed
)

// RuleFault is returned by detection-rule lifecycle operations.
type RuleFault struct {
	Kind RuleKind
	Msg  string
}

func (f *RuleFault) Error() string {
	names := [...]string{"rule_not_found", "rule_version_invalid", "config_malformed"}
	name := "unknown"
	if int(f.Kind) < len(names) {
		name = names[f.Kind]
	}
	return fmt.Sprintf("rule fault (%s): %s", name, f.Msg)
}

// TransportKind enumerates infrastructure-level failures common to every pillar.
type TransportKind int

const (
	TransportUpstream TransportKind = iota
	TransportTimeout
	TransportCancelled
)

// TransportFault wraps a store/signer/notification-sink failure. Callers may
// retry with bounded backoff, but must never retry in a way that duplicates
// a block_index reservation.
type TransportFault struct {
	Kind TransportKind
	Err  error
}

func (f *TransportFault) Error() string {
	names := [...]string{"upstream", "timeout", "cancelled"}
	name := "unknown"
	if int(f.Kind) < len(names) {
		name = names[f.Kind]
	}
	if f.Err != nil {
		return fmt.Sprintf("transport fault (%s): %v", name, f.Err)
	}
	return fmt.Sprintf("transport fault (%s)", name)
}

func (f *TransportFault) Unwrap() error { return f.Err }

// NewTransportFault wraps err as a TransportFault of the given kind.
func NewTransportFault(kind TransportKind, err error) *TransportFault {
	return &TransportFault{Kind: kind, Err: err}
}
