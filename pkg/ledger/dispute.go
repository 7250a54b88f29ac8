package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/pkg/faults"
)

// OpenDisputeRequest starts a dispute against job_id.
type OpenDisputeRequest struct {
	JobID     string
	SubjectID string
	Reason    DisputeReason
}

// OpenDispute collects every ledger entry with target_id == job_id as
// evidence and stamps a DISPUTE_OPENED entry in the chain itself.
func (l *Ledger) OpenDispute(ctx context.Context, req OpenDisputeRequest) (Dispute, error) {
	evidence, err := l.store.EntriesByTarget(ctx, req.JobID)
	if err != nil {
		return Dispute{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	evidenceIDs := make([]uuid.UUID, len(evidence))
	for i, e := range evidence {
		evidenceIDs[i] = e.EntryID
	}

	d := Dispute{
		DisputeID:       uuid.New(),
		JobID:           req.JobID,
		SubjectID:       req.SubjectID,
		Reason:          req.Reason,
		Status:          DisputeOpen,
		EvidenceEntryID: evidenceIDs,
		OpenedAt:        time.Now().UTC(),
	}
	if err := l.store.SaveDispute(ctx, d); err != nil {
		return Dispute{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	_, err = l.Commit(ctx, CommitEventRequest{
		EventType: EventDisputeOpened,
		SubjectID: req.SubjectID,
		TargetID:  req.JobID,
		TargetType: "job",
		Metadata: map[string]string{
			"dispute_id":     d.DisputeID.String(),
			"reason":         string(req.Reason),
			"evidence_count": fmt.Sprintf("%d", len(evidence)),
		},
	})
	if err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// ResolveDisputeRequest resolves a previously opened dispute.
type ResolveDisputeRequest struct {
	DisputeID  uuid.UUID
	ResolvedBy string
	Outcome    string
	Refund     float64
	Escalate   bool
}

// ResolveDispute writes a DISPUTE_RESOLVED entry and, if a refund is due, a
// REFUND_ISSUED entry.
func (l *Ledger) ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (Dispute, error) {
	d, err := l.store.GetDispute(ctx, req.DisputeID)
	if err != nil {
		return Dispute{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	now := time.Now().UTC()
	d.Status = DisputeResolved
	if req.Escalate {
		d.Status = DisputeEscalated
	}
	d.Outcome = req.Outcome
	d.Refund = req.Refund
	d.ResolvedAt = &now
	d.ResolvedBy = req.ResolvedBy

	if err := l.store.SaveDispute(ctx, d); err != nil {
		return Dispute{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	_, err = l.Commit(ctx, CommitEventRequest{
		EventType:  EventDisputeResolved,
		SubjectID:  d.SubjectID,
		TargetID:   d.JobID,
		TargetType: "job",
		Metadata: map[string]string{
			"dispute_id": d.DisputeID.String(),
			"outcome":    req.Outcome,
			"resolved_by": req.ResolvedBy,
		},
	})
	if err != nil {
		return Dispute{}, err
	}

	if req.Refund > 0 {
		_, err = l.Commit(ctx, CommitEventRequest{
			EventType:  EventRefundIssued,
			SubjectID:  d.SubjectID,
			TargetID:   d.JobID,
			TargetType: "job",
			Metadata: map[string]string{
				"dispute_id": d.DisputeID.String(),
				"refund":     fmt.Sprintf("%.2f", req.Refund),
			},
		})
		if err != nil {
			return Dispute{}, err
		}
	}

	return d, nil
}
