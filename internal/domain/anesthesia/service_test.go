package anesthesia

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/domain/audit"
	"github.com/surgicenter/emr/internal/platform/auth"
	"github.com/surgicenter/emr/internal/platform/db"
	"github.com/surgicenter/emr/internal/platform/signing"
)

type auditRepoStub struct {
	entries []*audit.Entry
}

func (a *auditRepoStub) Append(_ context.Context, e *audit.Entry) error {
	e.ID = int64(len(a.entries) + 1)
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditRepoStub) GetByID(context.Context, string, int64) (*audit.Entry, error) {
	return nil, audit.ErrNotFound
}

func (a *auditRepoStub) Range(context.Context, string, int64, int64) ([]*audit.Entry, error) {
	return nil, nil
}

func (a *auditRepoStub) Search(context.Context, string, audit.SearchParams) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}

func (a *auditRepoStub) RecentForActor(context.Context, string, string, string, audit.ActionKind, int) ([]*audit.Entry, error) {
	return nil, nil
}

func (a *auditRepoStub) MaxID(context.Context, string) (int64, error) {
	return int64(len(a.entries)), nil
}

type assessmentRepoMock struct {
	rows map[uuid.UUID]*PreAnesthesiaAssessment
}

func (m *assessmentRepoMock) Create(_ context.Context, a *PreAnesthesiaAssessment) error {
	a.ID = uuid.New()
	stored := *a
	m.rows[a.ID] = &stored
	return nil
}

func (m *assessmentRepoMock) GetByID(_ context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error) {
	a, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *assessmentRepoMock) GetForUpdate(ctx context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error) {
	return m.GetByID(ctx, id)
}

func (m *assessmentRepoMock) GetByCheckin(_ context.Context, checkinID uuid.UUID) (*PreAnesthesiaAssessment, error) {
	for _, a := range m.rows {
		if a.CheckinID == checkinID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Update mirrors the guarded SQL: content columns only, no row written
// once the assessment is signed.
func (m *assessmentRepoMock) Update(_ context.Context, a *PreAnesthesiaAssessment) error {
	stored, ok := m.rows[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Signature.IsSigned {
		return signing.ErrDocumentLocked
	}
	cp := *a
	cp.Signature = stored.Signature
	m.rows[a.ID] = &cp
	return nil
}

func (m *assessmentRepoMock) SaveSignature(_ context.Context, a *PreAnesthesiaAssessment) error {
	stored, ok := m.rows[a.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Signature = a.Signature
	return nil
}

type recordRepoMock struct {
	rows map[uuid.UUID]*Record
}

func (m *recordRepoMock) Create(_ context.Context, r *Record) error {
	r.ID = uuid.New()
	stored := *r
	m.rows[r.ID] = &stored
	return nil
}

func (m *recordRepoMock) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *recordRepoMock) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return m.GetByID(ctx, id)
}

func (m *recordRepoMock) GetByCheckin(_ context.Context, checkinID uuid.UUID) (*Record, error) {
	for _, r := range m.rows {
		if r.CheckinID == checkinID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *recordRepoMock) Update(_ context.Context, r *Record) error {
	stored, ok := m.rows[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Signature.IsSigned {
		return signing.ErrDocumentLocked
	}
	cp := *r
	cp.Signature = stored.Signature
	m.rows[r.ID] = &cp
	return nil
}

func (m *recordRepoMock) SaveSignature(_ context.Context, r *Record) error {
	stored, ok := m.rows[r.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Signature = r.Signature
	return nil
}

const testArtifact = "data:image/png;base64,QQQ"

func testContext() context.Context {
	ctx := db.ContextWithTenant(context.Background(), "clinic_a")
	ctx = context.WithValue(ctx, auth.UserIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"anesthesiologist"})
	ctx = context.WithValue(ctx, auth.DisplayNameKey, "Dr. Sam Ortiz")
	return ctx
}

func newTestService() (*Service, *assessmentRepoMock, *recordRepoMock, *auditRepoStub) {
	assessments := &assessmentRepoMock{rows: make(map[uuid.UUID]*PreAnesthesiaAssessment)}
	records := &recordRepoMock{rows: make(map[uuid.UUID]*Record)}
	auditRepo := &auditRepoStub{}
	svc := NewService(assessments, records, audit.NewService(auditRepo, zerolog.Nop()), nil, zerolog.Nop())
	return svc, assessments, records, auditRepo
}

func TestAssessmentSignFreezesContent(t *testing.T) {
	svc, repo, _, _ := newTestService()

	a, err := svc.CreateAssessment(testContext(), &PreAnesthesiaAssessment{
		CheckinID: uuid.New(),
		Header:    map[string]any{"asa_class": "2", "npo_since": "24:00"},
		History:   "HTN, controlled",
		Plan:      "general anesthesia",
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.SignAssessment(testContext(), a.ID, testArtifact, RequestMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	in := *a
	in.Plan = "MAC"
	if _, err := svc.UpdateAssessment(testContext(), a.ID, &in, RequestMeta{}); !errors.Is(err, signing.ErrDocumentLocked) {
		t.Fatalf("edit after sign err = %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), a.ID)
	if stored.Plan != "general anesthesia" {
		t.Errorf("plan changed on rejected edit: %q", stored.Plan)
	}
	if !stored.Signature.Verify(stored) {
		t.Error("persisted signature does not verify")
	}
}

func TestRecordTimeSeriesInCanonicalPayload(t *testing.T) {
	svc, _, records, _ := newTestService()

	r, err := svc.CreateRecord(testContext(), &Record{
		CheckinID: uuid.New(),
		TimeSeries: []map[string]any{
			{"time": "08:00", "hr": 72, "map": 85},
			{"time": "08:05", "hr": 70, "map": 82},
		},
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.SignRecord(testContext(), r.ID, testArtifact, RequestMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	valid, err := svc.VerifyRecord(testContext(), r.ID)
	if err != nil || !valid {
		t.Fatalf("verify = %v, %v", valid, err)
	}

	// Appending a vitals row after signing must break verification.
	stored := records.rows[r.ID]
	stored.TimeSeries = append(stored.TimeSeries, map[string]any{"time": "08:10", "hr": 68})

	valid, err = svc.VerifyRecord(testContext(), r.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if valid {
		t.Error("tampered time series verified as valid")
	}
}

func TestRecordSignAppendsSignatureEntry(t *testing.T) {
	svc, _, _, auditRepo := newTestService()

	r, err := svc.CreateRecord(testContext(), &Record{CheckinID: uuid.New()}, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SignRecord(testContext(), r.ID, testArtifact, RequestMeta{}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	var sigs int
	for _, e := range auditRepo.entries {
		if e.Action == audit.ActionSignature && e.ResourceType == "anesthesia_record" {
			sigs++
		}
	}
	if sigs != 1 {
		t.Errorf("signature entries = %d, want 1", sigs)
	}

	if _, err := svc.SignRecord(testContext(), r.ID, testArtifact, RequestMeta{}); !errors.Is(err, signing.ErrAlreadySigned) {
		t.Errorf("second sign err = %v", err)
	}
}
