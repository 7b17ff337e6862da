// Package consent holds the signable consent forms: the surgical consent
// and the consent for anesthesia services. Both are single-signer forms
// that freeze on signature.
package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/surgicenter/emr/internal/platform/signing"
)

// SurgicalConsent is the procedure-specific consent form. The patient,
// witness and guardian signature pads are content fields: they are frozen,
// along with the rest of the form, by the staff member's signature.
type SurgicalConsent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	ProcedureName string         `db:"procedure_name" json:"procedure_name"`
	SurgeonName   string         `db:"surgeon_name" json:"surgeon_name"`
	NKDA          bool           `db:"nkda" json:"nkda"`
	AllergiesText string         `db:"allergies_text" json:"allergies_text"`
	Sections      map[string]any `db:"sections" json:"sections"`

	PatientSignatureDataURL  string `db:"patient_signature_data_url" json:"patient_signature_data_url"`
	WitnessSignatureDataURL  string `db:"witness_signature_data_url" json:"witness_signature_data_url"`
	GuardianSignatureDataURL string `db:"guardian_signature_data_url" json:"guardian_signature_data_url"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (c *SurgicalConsent) CanonicalPayload() map[string]any {
	return map[string]any{
		"procedure_name":              c.ProcedureName,
		"surgeon_name":                c.SurgeonName,
		"nkda":                        c.NKDA,
		"allergies_text":              c.AllergiesText,
		"sections":                    c.Sections,
		"patient_signature_data_url":  c.PatientSignatureDataURL,
		"witness_signature_data_url":  c.WitnessSignatureDataURL,
		"guardian_signature_data_url": c.GuardianSignatureDataURL,
		"checkin_id":                  c.CheckinID.String(),
		"clinic_id":                   c.ClinicID,
	}
}

// applyEdit copies the editable fields from in. Identity and signature
// state never move through edits.
func (c *SurgicalConsent) applyEdit(in *SurgicalConsent) {
	c.ProcedureName = in.ProcedureName
	c.SurgeonName = in.SurgeonName
	c.NKDA = in.NKDA
	c.AllergiesText = in.AllergiesText
	c.Sections = in.Sections
	c.PatientSignatureDataURL = in.PatientSignatureDataURL
	c.WitnessSignatureDataURL = in.WitnessSignatureDataURL
	c.GuardianSignatureDataURL = in.GuardianSignatureDataURL
}

// AnesthesiaConsent is the consent for anesthesia services form. One
// anesthesiologist signer; the patient-side pads are content fields as on
// the surgical consent.
type AnesthesiaConsent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClinicID  string    `db:"clinic_id" json:"clinic_id"`
	CheckinID uuid.UUID `db:"checkin_id" json:"checkin_id"`

	NKDA          bool           `db:"nkda" json:"nkda"`
	AllergiesText string         `db:"allergies_text" json:"allergies_text"`
	Sections      map[string]any `db:"sections" json:"sections"`

	PatientSignatureDataURL          string `db:"patient_signature_data_url" json:"patient_signature_data_url"`
	WitnessSignatureDataURL          string `db:"witness_signature_data_url" json:"witness_signature_data_url"`
	GuardianSignatureDataURL         string `db:"guardian_signature_data_url" json:"guardian_signature_data_url"`
	AnesthesiologistSignatureDataURL string `db:"anesthesiologist_signature_data_url" json:"anesthesiologist_signature_data_url"`

	Signature signing.SignatureBlock `json:"signature"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (c *AnesthesiaConsent) CanonicalPayload() map[string]any {
	return map[string]any{
		"nkda":                                c.NKDA,
		"allergies_text":                      c.AllergiesText,
		"sections":                            c.Sections,
		"patient_signature_data_url":          c.PatientSignatureDataURL,
		"witness_signature_data_url":          c.WitnessSignatureDataURL,
		"guardian_signature_data_url":         c.GuardianSignatureDataURL,
		"anesthesiologist_signature_data_url": c.AnesthesiologistSignatureDataURL,
		"checkin_id":                          c.CheckinID.String(),
		"clinic_id":                           c.ClinicID,
	}
}

func (c *AnesthesiaConsent) applyEdit(in *AnesthesiaConsent) {
	c.NKDA = in.NKDA
	c.AllergiesText = in.AllergiesText
	c.Sections = in.Sections
	c.PatientSignatureDataURL = in.PatientSignatureDataURL
	c.WitnessSignatureDataURL = in.WitnessSignatureDataURL
	c.GuardianSignatureDataURL = in.GuardianSignatureDataURL
	c.AnesthesiologistSignatureDataURL = in.AnesthesiologistSignatureDataURL
}
