package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ActionKind enumerates the auditable actions. The set is fixed by the
// compliance policy; Append rejects anything outside it.
type ActionKind string

const (
	ActionCreate         ActionKind = "create"
	ActionRead           ActionKind = "read"
	ActionUpdate         ActionKind = "update"
	ActionDelete         ActionKind = "delete"
	ActionPrint          ActionKind = "print"
	ActionExport         ActionKind = "export"
	ActionLogin          ActionKind = "login"
	ActionLogout         ActionKind = "logout"
	ActionFailedLogin    ActionKind = "failed_login"
	ActionPasswordChange ActionKind = "password_change"
	ActionPasswordReset  ActionKind = "password_reset"
	ActionMFAEnable      ActionKind = "mfa_enable"
	ActionMFADisable     ActionKind = "mfa_disable"
	ActionSignature      ActionKind = "signature"
	ActionBreakGlass     ActionKind = "break_glass"
)

var validActions = map[ActionKind]bool{
	ActionCreate: true, ActionRead: true, ActionUpdate: true, ActionDelete: true,
	ActionPrint: true, ActionExport: true, ActionLogin: true, ActionLogout: true,
	ActionFailedLogin: true, ActionPasswordChange: true, ActionPasswordReset: true,
	ActionMFAEnable: true, ActionMFADisable: true, ActionSignature: true,
	ActionBreakGlass: true,
}

func (k ActionKind) Valid() bool { return validActions[k] }

// FieldChange records one field's before/after values on an update action.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// UnknownOrigin is stored when the caller's address could not be determined.
// An action is never refused because audit context was incomplete.
const UnknownOrigin = "0.0.0.0"

// Entry is one record in the append-only ledger. Entries are write-once:
// they are built by NewEntry, sealed into the hash chain by the repository
// during Append, and never mutated or deleted afterwards. Actor and resource
// snapshot fields keep the record meaningful after the referenced rows are
// gone.
type Entry struct {
	ID                int64                  `db:"id" json:"id"`
	ActorID           *string                `db:"actor_id" json:"actor_id,omitempty"`
	ActorDisplayName  string                 `db:"actor_display_name" json:"actor_display_name"`
	ActorRole         string                 `db:"actor_role" json:"actor_role"`
	TenantID          string                 `db:"tenant_id" json:"tenant_id"`
	Action            ActionKind             `db:"action_kind" json:"action_kind"`
	ResourceType      string                 `db:"resource_type" json:"resource_type"`
	ResourceID        *string                `db:"resource_id" json:"resource_id,omitempty"`
	ResourceLabel     string                 `db:"resource_label" json:"resource_label"`
	OccurredAt        time.Time              `db:"occurred_at" json:"occurred_at"`
	OriginAddress     string                 `db:"origin_address" json:"origin_address"`
	OriginAgent       string                 `db:"origin_agent" json:"origin_agent"`
	Reason            string                 `db:"reason" json:"reason,omitempty"`
	FieldChanges      map[string]FieldChange `db:"field_changes" json:"field_changes,omitempty"`
	Metadata          map[string]any         `db:"metadata" json:"metadata,omitempty"`
	PreviousEntryHash string                 `db:"previous_entry_hash" json:"previous_entry_hash"`
	EntryHash         string                 `db:"entry_hash" json:"entry_hash"`
}

// NewEntry builds an unsealed entry. occurred_at is truncated to microseconds
// so the value round-trips through Postgres timestamptz identically, which
// the hash recomputation depends on.
func NewEntry(tenantID string, action ActionKind, now time.Time) *Entry {
	return &Entry{
		TenantID:         tenantID,
		Action:           action,
		OccurredAt:       now.UTC().Truncate(time.Microsecond),
		OriginAddress:    UnknownOrigin,
		ActorDisplayName: "anonymous",
		ActorRole:        "unknown",
	}
}

// seal links the entry to its chain predecessor and computes its own hash.
// Called exactly once, by the repository, while the tenant's chain tail is
// locked.
func (e *Entry) seal(previousHash string) {
	e.PreviousEntryHash = previousHash
	e.EntryHash = ComputeHash(e)
}

// ComputeHash digests the entry's identity fields concatenated with its
// predecessor's hash. The field order and separator must match verification
// exactly.
func ComputeHash(e *Entry) string {
	resourceID := ""
	if e.ResourceID != nil {
		resourceID = *e.ResourceID
	}
	input := strings.Join([]string{
		e.ActorDisplayName,
		string(e.Action),
		e.ResourceType,
		resourceID,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
		e.PreviousEntryHash,
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyReport is the result of a chain verification walk.
type VerifyReport struct {
	TenantID     string `json:"tenant_id"`
	FromID       int64  `json:"from_id"`
	ToID         int64  `json:"to_id"`
	Checked      int    `json:"checked"`
	Valid        bool   `json:"valid"`
	FirstBreakID *int64 `json:"first_break_id,omitempty"`
}
