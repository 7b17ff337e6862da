package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/platform/metrics"
)

// AppendParams carries everything a new ledger entry needs. TenantID,
// Action, ActorDisplayName and ResourceType are required; the rest defaults.
type AppendParams struct {
	TenantID         string
	ActorID          *string
	ActorDisplayName string
	ActorRole        string
	Action           ActionKind
	ResourceType     string
	ResourceID       *string
	ResourceLabel    string
	OriginAddress    string
	OriginAgent      string
	Reason           string
	FieldChanges     map[string]FieldChange
	Metadata         map[string]any
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "audit").Logger()}
}

// Append writes one entry to the ledger and returns it sealed. This is the
// strict path: callers that must not proceed without an audit record (the
// signing flow) use it inside their own transaction, so a failed append
// aborts the whole operation.
func (s *Service) Append(ctx context.Context, p AppendParams) (*Entry, error) {
	if p.TenantID == "" {
		return nil, fmt.Errorf("audit append: tenant id required")
	}
	if !p.Action.Valid() {
		return nil, fmt.Errorf("audit append: unknown action kind %q", p.Action)
	}
	if p.ResourceType == "" {
		return nil, fmt.Errorf("audit append: resource type required")
	}

	e := NewEntry(p.TenantID, p.Action, time.Now())
	e.ActorID = p.ActorID
	if p.ActorDisplayName != "" {
		e.ActorDisplayName = p.ActorDisplayName
	}
	if p.ActorRole != "" {
		e.ActorRole = p.ActorRole
	}
	e.ResourceType = p.ResourceType
	e.ResourceID = p.ResourceID
	e.ResourceLabel = p.ResourceLabel
	if p.OriginAddress != "" {
		e.OriginAddress = p.OriginAddress
	}
	e.OriginAgent = p.OriginAgent
	e.Reason = p.Reason
	e.FieldChanges = p.FieldChanges
	e.Metadata = p.Metadata

	if err := s.repo.Append(ctx, e); err != nil {
		metrics.AuditAppendFailed(p.TenantID, string(p.Action))
		return nil, err
	}
	metrics.AuditAppended(p.TenantID, string(p.Action))
	return e, nil
}

// Record is the best-effort path used for access logging. A broken ledger
// must never block patient care reads, so failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, p AppendParams) {
	if _, err := s.Append(ctx, p); err != nil {
		s.logger.Error().Err(err).
			Str("tenant_id", p.TenantID).
			Str("action", string(p.Action)).
			Str("resource_type", p.ResourceType).
			Msg("best-effort audit record dropped")
	}
}

// VerifyChain walks entries [fromID, toID] in ascending id order, recomputing
// each entry's hash and checking the predecessor link. It reports the first
// entry whose stored hashes no longer match, which localizes a tampered or
// deleted record. toID <= 0 means "up to the newest entry".
func (s *Service) VerifyChain(ctx context.Context, tenantID string, fromID, toID int64) (*VerifyReport, error) {
	if fromID <= 0 {
		fromID = 1
	}
	if toID <= 0 {
		max, err := s.repo.MaxID(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("audit verify: %w", err)
		}
		toID = max
	}
	report := &VerifyReport{TenantID: tenantID, FromID: fromID, ToID: toID, Valid: true}
	if toID < fromID {
		metrics.ChainVerified(tenantID, true)
		return report, nil
	}

	entries, err := s.repo.Range(ctx, tenantID, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("audit verify: %w", err)
	}

	var prevHash string
	for i, e := range entries {
		report.Checked++
		// The first entry of a partial walk is checked against its own stored
		// predecessor hash; a full walk from the genesis entry checks the
		// empty-string link too.
		if i == 0 {
			if fromID == 1 && e.PreviousEntryHash != "" {
				s.breakAt(report, e.ID)
				break
			}
			prevHash = e.PreviousEntryHash
		} else if e.PreviousEntryHash != prevHash {
			s.breakAt(report, e.ID)
			break
		}
		if ComputeHash(e) != e.EntryHash {
			s.breakAt(report, e.ID)
			break
		}
		prevHash = e.EntryHash
	}

	if !report.Valid {
		s.logger.Warn().
			Str("tenant_id", tenantID).
			Int64("first_break_id", *report.FirstBreakID).
			Msg("audit chain verification failed")
	}
	metrics.ChainVerified(tenantID, report.Valid)
	return report, nil
}

func (s *Service) breakAt(report *VerifyReport, id int64) {
	report.Valid = false
	report.FirstBreakID = &id
}

// Search lists ledger entries newest-first with the given filters.
func (s *Service) Search(ctx context.Context, tenantID string, p SearchParams) ([]*Entry, int, error) {
	if p.Action != "" && !p.Action.Valid() {
		return nil, 0, fmt.Errorf("audit search: unknown action kind %q", p.Action)
	}
	return s.repo.Search(ctx, tenantID, p)
}

// RecentResourceIDs returns the ids of resources of the given type that the
// actor most recently touched, newest first, deduplicated while preserving
// order. Drives "recently opened charts" lists.
func (s *Service) RecentResourceIDs(ctx context.Context, tenantID, actorID, resourceType string, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	// Over-fetch because repeated opens of the same chart collapse into one id.
	entries, err := s.repo.RecentForActor(ctx, tenantID, actorID, resourceType, ActionRead, limit*5)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, limit)
	ids := make([]string, 0, limit)
	for _, e := range entries {
		if e.ResourceID == nil || seen[*e.ResourceID] {
			continue
		}
		seen[*e.ResourceID] = true
		ids = append(ids, *e.ResourceID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}
