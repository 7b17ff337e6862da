package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func TestComputeHashMatchesManualDigest(t *testing.T) {
	occurred := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	rid := "chart-42"
	e := &Entry{
		ActorDisplayName:  "Dr. Pat Chen",
		Action:            ActionUpdate,
		ResourceType:      "surgical_consent",
		ResourceID:        &rid,
		OccurredAt:        occurred,
		PreviousEntryHash: "abc123",
	}
	input := "Dr. Pat Chen|update|surgical_consent|chart-42|" +
		occurred.Format(time.RFC3339Nano) + "|abc123"
	sum := sha256.Sum256([]byte(input))
	want := hex.EncodeToString(sum[:])

	if got := ComputeHash(e); got != want {
		t.Errorf("ComputeHash = %s, want %s", got, want)
	}
}

func TestComputeHashNilResourceID(t *testing.T) {
	e := &Entry{
		ActorDisplayName: "system",
		Action:           ActionLogin,
		ResourceType:     "session",
		OccurredAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	// A nil resource id hashes as the empty string, not as "nil" or a panic.
	input := "system|login|session||2025-01-01T00:00:00Z|"
	sum := sha256.Sum256([]byte(input))
	if got := ComputeHash(e); got != hex.EncodeToString(sum[:]) {
		t.Errorf("ComputeHash with nil resource id = %s", got)
	}
}

func TestNewEntryDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.FixedZone("IST", 5*3600+1800))
	e := NewEntry("clinic_a", ActionRead, now)

	if e.TenantID != "clinic_a" || e.Action != ActionRead {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.OriginAddress != UnknownOrigin {
		t.Errorf("origin = %q, want %q", e.OriginAddress, UnknownOrigin)
	}
	if e.ActorDisplayName != "anonymous" || e.ActorRole != "unknown" {
		t.Errorf("actor defaults = %q/%q", e.ActorDisplayName, e.ActorRole)
	}
	if e.OccurredAt.Location() != time.UTC {
		t.Errorf("occurred_at not normalized to UTC: %v", e.OccurredAt)
	}
	if e.OccurredAt.Nanosecond()%1000 != 0 {
		t.Errorf("occurred_at not truncated to microseconds: %v", e.OccurredAt)
	}
}

func TestSealLinksPredecessor(t *testing.T) {
	e := NewEntry("clinic_a", ActionCreate, time.Now())
	e.ActorDisplayName = "Nurse Kim"
	e.ResourceType = "pacu_record"

	e.seal("prevhash")
	if e.PreviousEntryHash != "prevhash" {
		t.Errorf("previous hash = %q", e.PreviousEntryHash)
	}
	if e.EntryHash != ComputeHash(e) {
		t.Error("sealed hash does not recompute")
	}
}

func TestActionKindValid(t *testing.T) {
	for _, k := range []ActionKind{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPrint,
		ActionExport, ActionLogin, ActionLogout, ActionFailedLogin,
		ActionPasswordChange, ActionPasswordReset, ActionMFAEnable,
		ActionMFADisable, ActionSignature, ActionBreakGlass,
	} {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	for _, k := range []ActionKind{"", "CREATE", "view", "sign"} {
		if k.Valid() {
			t.Errorf("%q should be invalid", k)
		}
	}
}
