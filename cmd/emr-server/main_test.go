package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/domain/audit"
	"github.com/surgicenter/emr/internal/platform/db"
	"github.com/surgicenter/emr/internal/platform/middleware"
)

func middlewareAccess(t *testing.T) middleware.Access {
	t.Helper()
	return middleware.Access{
		ActorID:      "b7e4f5a0-0000-0000-0000-000000000001",
		ActorName:    "J. Rivera, RN",
		ActorRole:    "nurse",
		Action:       "read",
		ResourceType: "pacu_record",
		ResourceID:   "abc",
		IPAddress:    "10.0.0.8",
		UserAgent:    "integration-test",
		Path:         "/api/v1/pacu-records/abc",
		Method:       "GET",
		RequestID:    "req-1",
		StatusCode:   200,
	}
}

type ledgerStub struct {
	entries []*audit.Entry
}

func (l *ledgerStub) Append(_ context.Context, e *audit.Entry) error {
	e.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, e)
	return nil
}

func (l *ledgerStub) GetByID(context.Context, string, int64) (*audit.Entry, error) {
	return nil, audit.ErrNotFound
}

func (l *ledgerStub) Range(context.Context, string, int64, int64) ([]*audit.Entry, error) {
	return nil, nil
}

func (l *ledgerStub) Search(context.Context, string, audit.SearchParams) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (l *ledgerStub) RecentForActor(context.Context, string, string, string, audit.ActionKind, int) ([]*audit.Entry, error) {
	return nil, nil
}

func (l *ledgerStub) MaxID(context.Context, string) (int64, error) {
	return int64(len(l.entries)), nil
}

func TestAccessRecorderMapsAccessToLedgerEntry(t *testing.T) {
	repo := &ledgerStub{}
	svc := audit.NewService(repo, zerolog.Nop())
	recorder := accessRecorder(svc)

	ctx := db.ContextWithTenant(context.Background(), "clinic_a")
	err := recorder.RecordAccess(ctx, middlewareAccess(t))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.TenantID != "clinic_a" {
		t.Errorf("tenant = %q", e.TenantID)
	}
	if e.Action != audit.ActionRead {
		t.Errorf("action = %q", e.Action)
	}
	if e.ResourceType != "pacu_record" {
		t.Errorf("resource type = %q", e.ResourceType)
	}
	if e.Metadata["path"] != "/api/v1/pacu-records/abc" {
		t.Errorf("metadata path = %v", e.Metadata["path"])
	}
}

func TestAccessRecorderSkipsUnknownActions(t *testing.T) {
	repo := &ledgerStub{}
	svc := audit.NewService(repo, zerolog.Nop())
	recorder := accessRecorder(svc)

	a := middlewareAccess(t)
	a.Action = "OPTIONS"
	if err := recorder.RecordAccess(context.Background(), a); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(repo.entries) != 0 {
		t.Errorf("entries = %d, want 0", len(repo.entries))
	}
}

func TestClinicIDPattern(t *testing.T) {
	for _, ok := range []string{"default", "clinic_a", "A1"} {
		if !clinicIDPattern.MatchString(ok) {
			t.Errorf("%q rejected", ok)
		}
	}
	for _, bad := range []string{"", "a-b", "x;drop", "a b"} {
		if clinicIDPattern.MatchString(bad) {
			t.Errorf("%q accepted", bad)
		}
	}
}
