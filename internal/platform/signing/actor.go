package signing

import (
	"context"

	"github.com/google/uuid"

	"github.com/surgicenter/emr/internal/platform/auth"
)

// SignerFromContext snapshots the authenticated identity as the signer.
// An unparsable user id (dev mode) becomes the nil uuid; the display name
// still identifies the signer on the record.
func SignerFromContext(ctx context.Context) Signer {
	id, _ := uuid.Parse(auth.UserIDFromContext(ctx))
	return Signer{
		ID:   id,
		Name: auth.DisplayNameFromContext(ctx),
		Role: auth.PrimaryRole(ctx),
	}
}
