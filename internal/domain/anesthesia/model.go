// Package anesthesia holds the anesthesiologist's signable forms: the
// pre-anesthesia assessment and the intraoperative anesthesia record.
package anesthesia

import (
	"time"

	"github.com/google/uuid"

	"github.com/surgicenter/emr/internal/platform/signing"
)

// PreAnesthesiaAssessment is the pre-op evaluation. The grouped checkbox
// areas live in JSON blobs; the narrative sections are plain text.
type PreAnesthesiaAssessment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	Header  map[string]any `db:"header" json:"header"`
	History string         `db:"history" json:"history"`
	ROS     string         `db:"ros" json:"ros"`
	Meds    string         `db:"meds" json:"meds"`
	PE      string         `db:"pe" json:"pe"`
	Airway  map[string]any `db:"airway" json:"airway"`
	Plan    string         `db:"plan" json:"plan"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (a *PreAnesthesiaAssessment) CanonicalPayload() map[string]any {
	return map[string]any{
		"header":     a.Header,
		"history":    a.History,
		"ros":        a.ROS,
		"meds":       a.Meds,
		"pe":         a.PE,
		"airway":     a.Airway,
		"plan":       a.Plan,
		"checkin_id": a.CheckinID.String(),
		"clinic_id":  a.ClinicID,
	}
}

func (a *PreAnesthesiaAssessment) applyEdit(in *PreAnesthesiaAssessment) {
	a.Header = in.Header
	a.History = in.History
	a.ROS = in.ROS
	a.Meds = in.Meds
	a.PE = in.PE
	a.Airway = in.Airway
	a.Plan = in.Plan
}

// Record is the intraoperative anesthesia record. The vitals grid is a list
// of timestamped rows; the regional block mirrors the bottom-right procedure
// area of the paper form.
type Record struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	Header             map[string]any   `db:"header" json:"header"`
	TimeSeries         []map[string]any `db:"time_series" json:"time_series"`
	RegionalAnesthesia map[string]any   `db:"regional_anesthesia" json:"regional_anesthesia"`
	Notes              string           `db:"notes" json:"notes"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r *Record) CanonicalPayload() map[string]any {
	return map[string]any{
		"header":              r.Header,
		"time_series":         r.TimeSeries,
		"regional_anesthesia": r.RegionalAnesthesia,
		"notes":               r.Notes,
		"checkin_id":          r.CheckinID.String(),
		"clinic_id":           r.ClinicID,
	}
}

func (r *Record) applyEdit(in *Record) {
	r.Header = in.Header
	r.TimeSeries = in.TimeSeries
	r.RegionalAnesthesia = in.RegionalAnesthesia
	r.Notes = in.Notes
}
