// Package operative holds the intraoperative paperwork: the history and
// physical and the operating room record. H&P takes a physician signature,
// the OR record an RN signature.
package operative

import (
	"time"

	"github.com/google/uuid"

	"github.com/surgicenter/emr/internal/platform/signing"
)

// HistoryPhysical keeps the whole paper page in one JSON blob; the form
// changes layout often and nothing downstream reads individual fields.
type HistoryPhysical struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	Page1 map[string]any `db:"page1" json:"page1"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (h *HistoryPhysical) CanonicalPayload() map[string]any {
	return map[string]any{
		"page1":      h.Page1,
		"checkin_id": h.CheckinID.String(),
		"clinic_id":  h.ClinicID,
	}
}

func (h *HistoryPhysical) applyEdit(in *HistoryPhysical) {
	h.Page1 = in.Page1
}

// OperativeRecord is the OR nursing record. Header times are wall-clock
// strings ("HH:MM") as written on the paper form; both pages' checkbox and
// table areas live in JSON blobs.
type OperativeRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	RoomNumber string `db:"room_number" json:"room_number"`
	InTime     string `db:"in_time" json:"in_time"`
	StartTime  string `db:"start_time" json:"start_time"`
	EndTime    string `db:"end_time" json:"end_time"`
	OutTime    string `db:"out_time" json:"out_time"`

	Page1 map[string]any `db:"page1" json:"page1"`
	Page2 map[string]any `db:"page2" json:"page2"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r *OperativeRecord) CanonicalPayload() map[string]any {
	return map[string]any{
		"room_number": r.RoomNumber,
		"in_time":     r.InTime,
		"start_time":  r.StartTime,
		"end_time":    r.EndTime,
		"out_time":    r.OutTime,
		"page1":       r.Page1,
		"page2":       r.Page2,
		"checkin_id":  r.CheckinID.String(),
		"clinic_id":   r.ClinicID,
	}
}

func (r *OperativeRecord) applyEdit(in *OperativeRecord) {
	r.RoomNumber = in.RoomNumber
	r.InTime = in.InTime
	r.StartTime = in.StartTime
	r.EndTime = in.EndTime
	r.OutTime = in.OutTime
	r.Page1 = in.Page1
	r.Page2 = in.Page2
}
