package signing

import "errors"

var (
	// ErrAlreadySigned rejects a second sign attempt on a single-signer
	// document.
	ErrAlreadySigned = errors.New("document already signed")

	// ErrDocumentLocked rejects edits to a signed or locked document.
	ErrDocumentLocked = errors.New("document is signed and locked")

	// ErrInvalidArtifact rejects a missing or malformed signature payload.
	ErrInvalidArtifact = errors.New("signature artifact is missing or malformed")

	// ErrNoSignatures rejects locking a multi-signer document before any
	// signature slot is filled.
	ErrNoSignatures = errors.New("document has no signatures to lock")

	// ErrAllSlotsFilled rejects a signature when every co-signer slot is
	// taken.
	ErrAllSlotsFilled = errors.New("all signature slots are filled")
)
