package notify

import "testing"

func TestSeverityEmoji(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"CRITICAL", "🔴"},
		{"HIGH", "🟠"},
		{"MEDIUM", "🟡"},
		{"LOW", "🔵"},
		{"unknown", "⚪"},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			got := SeverityEmoji(tt.severity)
			if got != tt.want {
				t.Errorf("SeverityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long string", 10, "this is..."},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := truncate(tt.input, tt.max)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestNotificationBlocks(t *testing.T) {
	n := Notification{
		EventKind:   "ANOMALY_DETECTED",
		IncidentID:  "inc-1",
		JobID:       "job-42",
		NodeID:      "node-7",
		SubjectID:   "subj-9",
		Severity:    "CRITICAL",
		Title:       "Crypto pool connection detected",
		Detail:      "outbound connection to a known mining pool domain",
		ActionTaken: "KILL_AND_BAN",
	}

	blocks := NotificationBlocks(n)
	if len(blocks) == 0 {
		t.Fatal("expected non-empty blocks")
	}
	// header + fields + detail + ack button = 4 blocks (incident id set, kind is not CLEARANCE_REVOKED)
	if len(blocks) < 3 {
		t.Errorf("expected at least 3 blocks, got %d", len(blocks))
	}
}

func TestNotificationBlocksOmitsAckButtonForClearanceRevoked(t *testing.T) {
	n := Notification{EventKind: "CLEARANCE_REVOKED", IncidentID: "inc-2", Severity: "CRITICAL", Title: "Subject banned"}
	blocks := NotificationBlocks(n)
	// header only: no fields, no detail, and the ack button is suppressed
	// for CLEARANCE_REVOKED notifications.
	if len(blocks) != 1 {
		t.Fatalf("expected just the header block, got %d", len(blocks))
	}
}

func TestNotificationBlocksMinimal(t *testing.T) {
	n := Notification{Title: "Test", Severity: "LOW"}
	blocks := NotificationBlocks(n)
	if len(blocks) != 1 {
		t.Errorf("expected just the header block for a minimal notification, got %d", len(blocks))
	}
}

func TestFalsePositiveAckBlocks(t *testing.T) {
	blocks := FalsePositiveAckBlocks("inc-1", "<@U123>")
	if len(blocks) != 1 {
		t.Errorf("expected 1 block, got %d", len(blocks))
	}
}

func TestIncidentStatusBlocksEmpty(t *testing.T) {
	blocks := IncidentStatusBlocks(nil)
	if len(blocks) != 1 {
		t.Errorf("expected 1 block for empty incidents, got %d", len(blocks))
	}
}

func TestIncidentStatusBlocksWithEntries(t *testing.T) {
	incidents := []IncidentSummary{
		{IncidentID: "inc-1", JobID: "job-1", Severity: "CRITICAL", ActionTaken: "KILL_AND_BAN"},
		{IncidentID: "inc-2", JobID: "job-2", Severity: "MEDIUM", ActionTaken: "WARN_SUBJECT"},
	}
	blocks := IncidentStatusBlocks(incidents)
	// header + 2 entries
	if len(blocks) != 3 {
		t.Errorf("expected 3 blocks, got %d", len(blocks))
	}
}
