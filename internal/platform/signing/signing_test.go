package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeDoc struct {
	payload map[string]any
}

func (d *fakeDoc) CanonicalPayload() map[string]any { return d.payload }

const artifact = "data:image/png;base64,AAA"

func newSigner() Signer {
	return Signer{ID: uuid.New(), Name: "Dana Wallace, RN", Role: "nurse"}
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"a":1,"b":2,"c":{"y":false,"z":true}}`
	if string(a) != want {
		t.Errorf("canonical = %s, want %s", a, want)
	}
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	payload := map[string]any{
		"rows":  []any{map[string]any{"time": "08:30", "note": "stable"}},
		"notes": "recovering well",
	}
	first, err := CanonicalJSON(payload)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, _ := CanonicalJSON(payload)
		if string(again) != string(first) {
			t.Fatalf("iteration %d produced different output", i)
		}
	}
}

func TestContentHash_MatchesManualComputation(t *testing.T) {
	doc := &fakeDoc{payload: map[string]any{"diagnosis": "cataract"}}
	got, err := ContentHash(doc)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}

	sum := sha256.Sum256([]byte(`{"diagnosis":"cataract"}`))
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("ContentHash = %s, want %s", got, want)
	}
}

func TestSignatureHash(t *testing.T) {
	contentHash := "abc123"
	sum := sha256.Sum256([]byte("abc123|" + artifact))
	if got := SignatureHash(contentHash, artifact); got != hex.EncodeToString(sum[:]) {
		t.Errorf("SignatureHash mismatch")
	}
}

func TestApply_SignsOnce(t *testing.T) {
	doc := &fakeDoc{payload: map[string]any{"diagnosis": "cataract"}}
	var b SignatureBlock
	signer := newSigner()

	if err := b.Apply(doc, signer, artifact, time.Now()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !b.IsSigned || b.SignedByID == nil || *b.SignedByID != signer.ID {
		t.Errorf("block not filled: %+v", b)
	}
	if b.ContentHash == "" || b.SignatureHash == "" || b.SignedAt == nil {
		t.Errorf("hashes or timestamp missing: %+v", b)
	}
	if b.SignatureHash != SignatureHash(b.ContentHash, artifact) {
		t.Error("signature hash does not bind content hash to artifact")
	}

	err := b.Apply(doc, newSigner(), artifact, time.Now())
	if !errors.Is(err, ErrAlreadySigned) {
		t.Errorf("second Apply = %v, want ErrAlreadySigned", err)
	}
}

func TestApply_RejectsBadArtifact(t *testing.T) {
	doc := &fakeDoc{payload: map[string]any{"x": 1}}
	var b SignatureBlock

	for _, bad := range []string{"", "   ", "not-a-data-url"} {
		if err := b.Apply(doc, newSigner(), bad, time.Now()); !errors.Is(err, ErrInvalidArtifact) {
			t.Errorf("Apply(%q) = %v, want ErrInvalidArtifact", bad, err)
		}
	}
	if b.IsSigned {
		t.Error("block must stay unsigned after rejected artifacts")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	doc := &fakeDoc{payload: map[string]any{"diagnosis": "cataract"}}
	var b SignatureBlock
	if err := b.Apply(doc, newSigner(), artifact, time.Now()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !b.Verify(doc) {
		t.Fatal("Verify must pass immediately after signing")
	}

	// Out-of-band edit, hashes left stale.
	doc.payload["diagnosis"] = "glaucoma"
	if b.Verify(doc) {
		t.Error("Verify must fail after payload mutation")
	}

	doc.payload["diagnosis"] = "cataract"
	if !b.Verify(doc) {
		t.Fatal("Verify must pass again after restoring the payload")
	}

	// Swapped artifact.
	b.SignatureDataURL = "data:image/png;base64,BBB"
	if b.Verify(doc) {
		t.Error("Verify must fail after artifact substitution")
	}
}

func TestVerify_UnsignedIsFalse(t *testing.T) {
	var b SignatureBlock
	if b.Verify(&fakeDoc{payload: map[string]any{}}) {
		t.Error("unsigned block must not verify")
	}
}

func TestNextSlot(t *testing.T) {
	slot, err := NextSlot(nil)
	if err != nil || slot != 1 {
		t.Errorf("NextSlot(nil) = %d, %v; want 1", slot, err)
	}

	existing := []CoSignature{{Slot: 1}, {Slot: 3}}
	slot, err = NextSlot(existing)
	if err != nil || slot != 2 {
		t.Errorf("NextSlot = %d, %v; want 2", slot, err)
	}

	full := []CoSignature{{Slot: 1}, {Slot: 2}, {Slot: 3}}
	if _, err := NextSlot(full); !errors.Is(err, ErrAllSlotsFilled) {
		t.Errorf("NextSlot(full) = %v, want ErrAllSlotsFilled", err)
	}
}

func TestNewCoSignature(t *testing.T) {
	doc := &fakeDoc{payload: map[string]any{"notes": "pacu"}}
	signer := newSigner()

	cs, err := NewCoSignature(doc, signer, artifact, nil, time.Now())
	if err != nil {
		t.Fatalf("NewCoSignature: %v", err)
	}
	if cs.Slot != 1 || cs.SignerName != signer.Name || cs.SignerRole != "nurse" {
		t.Errorf("unexpected co-signature: %+v", cs)
	}
	if !cs.Verify(doc) {
		t.Error("co-signature must verify against unchanged payload")
	}

	doc.payload["notes"] = "changed"
	if cs.Verify(doc) {
		t.Error("co-signature must fail after payload mutation")
	}
}

func TestLock(t *testing.T) {
	var l LockBlock
	signer := newSigner()

	if err := l.Lock(signer, 0, time.Now()); !errors.Is(err, ErrNoSignatures) {
		t.Errorf("Lock with no signatures = %v, want ErrNoSignatures", err)
	}
	if err := l.Lock(signer, 2, time.Now()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !l.IsLocked || l.LockedByID == nil || l.LockedAt == nil {
		t.Errorf("lock block not filled: %+v", l)
	}
	if err := l.Lock(signer, 2, time.Now()); !errors.Is(err, ErrDocumentLocked) {
		t.Errorf("second Lock = %v, want ErrDocumentLocked", err)
	}
}
