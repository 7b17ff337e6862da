// Package pacu holds the recovery-room paperwork: the PACU record (single
// RN signer), the PACU progress notes (primary signer plus co-signatures)
// and the additional nursing notes (multi-signer with an explicit lock).
package pacu

import (
	"time"

	"github.com/google/uuid"

	"github.com/surgicenter/emr/internal/platform/signing"
)

// Record is the main PACU flowsheet. Header and discharge lines are flat
// fields; the Aldrete and assessment tables are row lists. Times are
// wall-clock strings as written on the form.
type Record struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	Surgeon          string `db:"surgeon" json:"surgeon"`
	Anesthesiologist string `db:"anesthesiologist" json:"anesthesiologist"`
	Procedure        string `db:"procedure" json:"procedure"`
	ArrivalTime      string `db:"arrival_time" json:"arrival_time"`
	AnesthesiaType   string `db:"anesthesia_type" json:"anesthesia_type"`
	ASALevel         string `db:"asa_level" json:"asa_level"`
	Airway           string `db:"airway" json:"airway"`
	O2Device         string `db:"o2_device" json:"o2_device"`
	NKDA             bool   `db:"nkda" json:"nkda"`
	AllergiesText    string `db:"allergies_text" json:"allergies_text"`

	AldreteRows           []map[string]any `db:"aldrete_rows" json:"aldrete_rows"`
	PatientAssessmentRows []map[string]any `db:"patient_assessment_rows" json:"patient_assessment_rows"`
	WoundExtremityRows    []map[string]any `db:"wound_extremity_rows" json:"wound_extremity_rows"`
	MedicationRows        []map[string]any `db:"medication_rows" json:"medication_rows"`

	IntakeNotes  string `db:"intake_notes" json:"intake_notes"`
	OutputNotes  string `db:"output_notes" json:"output_notes"`
	GeneralNotes string `db:"general_notes" json:"general_notes"`

	DischargedTo  string `db:"discharged_to" json:"discharged_to"`
	DischargeVia  string `db:"discharge_via" json:"discharge_via"`
	DischargeTime string `db:"discharge_time" json:"discharge_time"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r *Record) CanonicalPayload() map[string]any {
	return map[string]any{
		"surgeon":                 r.Surgeon,
		"anesthesiologist":        r.Anesthesiologist,
		"procedure":               r.Procedure,
		"arrival_time":            r.ArrivalTime,
		"anesthesia_type":         r.AnesthesiaType,
		"asa_level":               r.ASALevel,
		"airway":                  r.Airway,
		"o2_device":               r.O2Device,
		"nkda":                    r.NKDA,
		"allergies_text":          r.AllergiesText,
		"aldrete_rows":            r.AldreteRows,
		"patient_assessment_rows": r.PatientAssessmentRows,
		"wound_extremity_rows":    r.WoundExtremityRows,
		"medication_rows":         r.MedicationRows,
		"intake_notes":            r.IntakeNotes,
		"output_notes":            r.OutputNotes,
		"general_notes":           r.GeneralNotes,
		"discharged_to":           r.DischargedTo,
		"discharge_via":           r.DischargeVia,
		"discharge_time":          r.DischargeTime,
		"checkin_id":              r.CheckinID.String(),
		"clinic_id":               r.ClinicID,
	}
}

func (r *Record) applyEdit(in *Record) {
	r.Surgeon = in.Surgeon
	r.Anesthesiologist = in.Anesthesiologist
	r.Procedure = in.Procedure
	r.ArrivalTime = in.ArrivalTime
	r.AnesthesiaType = in.AnesthesiaType
	r.ASALevel = in.ASALevel
	r.Airway = in.Airway
	r.O2Device = in.O2Device
	r.NKDA = in.NKDA
	r.AllergiesText = in.AllergiesText
	r.AldreteRows = in.AldreteRows
	r.PatientAssessmentRows = in.PatientAssessmentRows
	r.WoundExtremityRows = in.WoundExtremityRows
	r.MedicationRows = in.MedicationRows
	r.IntakeNotes = in.IntakeNotes
	r.OutputNotes = in.OutputNotes
	r.GeneralNotes = in.GeneralNotes
	r.DischargedTo = in.DischargedTo
	r.DischargeVia = in.DischargeVia
	r.DischargeTime = in.DischargeTime
}

// ProgressEntry is one dated line on the progress notes sheet.
type ProgressEntry struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Initials string `json:"initials"`
	Notes    string `json:"notes"`
}

// ProgressNotes freeze on the primary signature; co-signers may still add
// their signatures afterwards, each freezing its own view of the entries.
type ProgressNotes struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	Entries []ProgressEntry `db:"entries" json:"entries"`

	Signature    signing.SignatureBlock `json:"signature"`
	CoSignatures []signing.CoSignature  `db:"co_signatures" json:"co_signatures"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (n *ProgressNotes) CanonicalPayload() map[string]any {
	return map[string]any{
		"entries":    n.Entries,
		"checkin_id": n.CheckinID.String(),
		"clinic_id":  n.ClinicID,
	}
}

func (n *ProgressNotes) applyEdit(in *ProgressNotes) {
	n.Entries = in.Entries
}

// AdditionalNotes stays editable while signatures accumulate; only the
// explicit lock freezes it. Earlier signatures over superseded content stop
// verifying, which is the intended tamper evidence.
type AdditionalNotes struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	PatientAssessmentRows []map[string]any `db:"patient_assessment_rows" json:"patient_assessment_rows"`
	WoundExtremityRows    []map[string]any `db:"wound_extremity_rows" json:"wound_extremity_rows"`
	MedicationRows        []map[string]any `db:"medication_rows" json:"medication_rows"`
	Notes                 string           `db:"notes" json:"notes"`

	Signatures []signing.CoSignature `db:"signatures" json:"signatures"`
	Lock       signing.LockBlock     `json:"lock"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (n *AdditionalNotes) CanonicalPayload() map[string]any {
	return map[string]any{
		"patient_assessment_rows": n.PatientAssessmentRows,
		"wound_extremity_rows":    n.WoundExtremityRows,
		"medication_rows":         n.MedicationRows,
		"notes":                   n.Notes,
		"checkin_id":              n.CheckinID.String(),
		"clinic_id":               n.ClinicID,
	}
}

func (n *AdditionalNotes) applyEdit(in *AdditionalNotes) {
	n.PatientAssessmentRows = in.PatientAssessmentRows
	n.WoundExtremityRows = in.WoundExtremityRows
	n.MedicationRows = in.MedicationRows
	n.Notes = in.Notes
}
