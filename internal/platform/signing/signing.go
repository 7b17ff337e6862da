// Package signing is the shared sign/lock/verify engine for clinical forms.
//
// Every form that requires an electronic signature embeds a SignatureBlock
// (single signer) or a CoSignature list plus LockBlock (multi signer) and
// supplies its own canonical payload. The engine owns the hash protocol:
//
//	content_hash   = SHA-256(canonical JSON of the payload)
//	signature_hash = SHA-256(content_hash + "|" + signature artifact)
//
// Once signed (or locked), a document's payload is frozen; verification is a
// pure recomputation of both hashes so out-of-band storage edits are
// detectable.
package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxCoSigners is the number of signature slots on multi-signer forms.
const MaxCoSigners = 3

// Document is the single obligation a form type owes the engine: a
// deterministic map of the fields frozen by a signature, including the
// identifying foreign keys.
type Document interface {
	CanonicalPayload() map[string]any
}

// Signer identifies who is signing, snapshotted into the document.
type Signer struct {
	ID   uuid.UUID
	Name string
	Role string
}

// SignatureBlock carries the single-signer state embedded in a form row.
// All fields are write-once: Apply sets them together and refuses to run
// twice.
type SignatureBlock struct {
	IsSigned         bool       `db:"is_signed" json:"is_signed"`
	SignedByID       *uuid.UUID `db:"signed_by_id" json:"signed_by_id,omitempty"`
	SignerName       string     `db:"signer_name" json:"signer_name,omitempty"`
	SignedAt         *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	SignatureDataURL string     `db:"signature_data_url" json:"signature_data_url,omitempty"`
	ContentHash      string     `db:"content_hash" json:"content_hash,omitempty"`
	SignatureHash    string     `db:"signature_hash" json:"signature_hash,omitempty"`
}

// CoSignature is one filled slot on a multi-signer form, stored in an
// ordered JSONB list. Each co-signature freezes its own view of the payload.
type CoSignature struct {
	Slot             int        `json:"slot"`
	SignedByID       *uuid.UUID `json:"signed_by_id,omitempty"`
	SignerName       string     `json:"signer_name"`
	SignerRole       string     `json:"signer_role"`
	SignedAt         time.Time  `json:"signed_at"`
	SignatureDataURL string     `json:"signature_data_url"`
	ContentHash      string     `json:"content_hash"`
	SignatureHash    string     `json:"signature_hash"`
}

// LockBlock carries the explicit-lock state for forms that stay editable
// while signatures accumulate.
type LockBlock struct {
	IsLocked   bool       `db:"is_locked" json:"is_locked"`
	LockedByID *uuid.UUID `db:"locked_by_id" json:"locked_by_id,omitempty"`
	LockedAt   *time.Time `db:"locked_at" json:"locked_at,omitempty"`
}

// ContentHash digests the document's canonical payload.
func ContentHash(doc Document) (string, error) {
	raw, err := CanonicalJSON(doc.CanonicalPayload())
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// SignatureHash binds a content hash to a signature artifact.
func SignatureHash(contentHash, artifact string) string {
	sum := sha256.Sum256([]byte(contentHash + "|" + artifact))
	return hex.EncodeToString(sum[:])
}

// ValidateArtifact checks the signature payload drawn on the signature pad.
func ValidateArtifact(artifact string) error {
	artifact = strings.TrimSpace(artifact)
	if artifact == "" || !strings.HasPrefix(artifact, "data:") {
		return ErrInvalidArtifact
	}
	return nil
}

// Apply performs the single-signer transition: computes both hashes over the
// payload as it stands now and fills the block atomically. A signed block
// refuses a second application.
func (b *SignatureBlock) Apply(doc Document, s Signer, artifact string, now time.Time) error {
	if b.IsSigned {
		return ErrAlreadySigned
	}
	if err := ValidateArtifact(artifact); err != nil {
		return err
	}

	contentHash, err := ContentHash(doc)
	if err != nil {
		return err
	}

	signedBy := s.ID
	signedAt := now.UTC()
	b.SignedByID = &signedBy
	b.SignerName = s.Name
	b.SignedAt = &signedAt
	b.SignatureDataURL = artifact
	b.ContentHash = contentHash
	b.SignatureHash = SignatureHash(contentHash, artifact)
	b.IsSigned = true
	return nil
}

// Verify recomputes both hashes from current state. False means the payload
// or the artifact no longer matches what was signed.
func (b *SignatureBlock) Verify(doc Document) bool {
	if !b.IsSigned {
		return false
	}
	contentHash, err := ContentHash(doc)
	if err != nil {
		return false
	}
	if contentHash != b.ContentHash {
		return false
	}
	return SignatureHash(contentHash, b.SignatureDataURL) == b.SignatureHash
}

// NextSlot finds the lowest free slot in 1..MaxCoSigners.
func NextSlot(existing []CoSignature) (int, error) {
	used := make(map[int]bool, len(existing))
	for _, cs := range existing {
		used[cs.Slot] = true
	}
	for slot := 1; slot <= MaxCoSigners; slot++ {
		if !used[slot] {
			return slot, nil
		}
	}
	return 0, ErrAllSlotsFilled
}

// NewCoSignature fills the next free slot with a signature over the payload
// as it stands now.
func NewCoSignature(doc Document, s Signer, artifact string, existing []CoSignature, now time.Time) (CoSignature, error) {
	if err := ValidateArtifact(artifact); err != nil {
		return CoSignature{}, err
	}

	slot, err := NextSlot(existing)
	if err != nil {
		return CoSignature{}, err
	}

	contentHash, err := ContentHash(doc)
	if err != nil {
		return CoSignature{}, err
	}

	signedBy := s.ID
	return CoSignature{
		Slot:             slot,
		SignedByID:       &signedBy,
		SignerName:       s.Name,
		SignerRole:       s.Role,
		SignedAt:         now.UTC(),
		SignatureDataURL: artifact,
		ContentHash:      contentHash,
		SignatureHash:    SignatureHash(contentHash, artifact),
	}, nil
}

// Verify recomputes the co-signature's hashes against the current payload.
func (cs CoSignature) Verify(doc Document) bool {
	contentHash, err := ContentHash(doc)
	if err != nil {
		return false
	}
	if contentHash != cs.ContentHash {
		return false
	}
	return SignatureHash(contentHash, cs.SignatureDataURL) == cs.SignatureHash
}

// Lock seals a multi-signer document. At least one signature slot must be
// filled; locking twice is rejected.
func (l *LockBlock) Lock(s Signer, signatureCount int, now time.Time) error {
	if l.IsLocked {
		return ErrDocumentLocked
	}
	if signatureCount == 0 {
		return ErrNoSignatures
	}
	lockedBy := s.ID
	lockedAt := now.UTC()
	l.LockedByID = &lockedBy
	l.LockedAt = &lockedAt
	l.IsLocked = true
	return nil
}
