package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no entry matches a lookup.
var ErrNotFound = errors.New("audit entry not found")

// SearchParams filters the ledger listing. Zero values mean "no filter".
type SearchParams struct {
	ActorID      string
	Action       ActionKind
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Repository persists ledger entries. Append seals the entry into the
// tenant's hash chain and assigns its ID; implementations must serialize
// concurrent appends for the same tenant so the chain stays linear.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, tenantID string, id int64) (*Entry, error)
	Range(ctx context.Context, tenantID string, fromID, toID int64) ([]*Entry, error)
	Search(ctx context.Context, tenantID string, p SearchParams) ([]*Entry, int, error)
	RecentForActor(ctx context.Context, tenantID, actorID, resourceType string, action ActionKind, limit int) ([]*Entry, error)
	MaxID(ctx context.Context, tenantID string) (int64, error)
}
