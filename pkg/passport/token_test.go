package passport

import (
	"strings"
	"testing"
	"time"
)

func testPassport() Passport {
	now := time.Now().UTC()
	return Passport{
		PassportID:       "pp-1",
		SubjectID:        "subj-1",
		SubjectType:      SubjectStudent,
		ClearanceLevel:   ClearanceInstitutional,
		InstitutionID:    "inst-1",
		TrustScore:       72,
		IdentityProvider: ProviderOIDCEdu,
		MFAVerified:      true,
		IssuedAt:         now,
		ExpiresAt:        now.Add(time.Hour),
	}
}

func TestHMACTokenRoundTrip(t *testing.T) {
	signer, err := NewHMACTokenSigner("01234567890123456789", "custodes-dextera", "custodes-api")
	if err != nil {
		t.Fatalf("NewHMACTokenSigner: %v", err)
	}
	p := testPassport()

	token, err := signer.Issue(p, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(token, ".") != 1 {
		t.Fatalf("expected exactly two dot-separated segments, got token %q", token)
	}

	c, err := signer.Verify(token, "custodes-api")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Sub != p.SubjectID || c.Jti != p.PassportID || c.Trs != p.TrustScore {
		t.Fatalf("decoded claims do not match issued passport: %+v", c)
	}
}

func TestHMACTokenTamperedSignatureFails(t *testing.T) {
	signer, _ := NewHMACTokenSigner("01234567890123456789", "custodes-dextera", "custodes-api")
	token, _ := signer.Issue(testPassport(), "")

	parts := strings.SplitN(token, ".", 2)
	tampered := parts[0] + ".deadbeef"
	if _, err := signer.Verify(tampered, "custodes-api"); err == nil {
		t.Fatal("expected a tampered signature to fail verification")
	}
}

func TestHMACTokenWrongAudienceFails(t *testing.T) {
	signer, _ := NewHMACTokenSigner("01234567890123456789", "custodes-dextera", "custodes-api")
	token, _ := signer.Issue(testPassport(), "custodes-api")

	if _, err := signer.Verify(token, "some-other-audience"); err == nil {
		t.Fatal("expected audience mismatch to fail verification")
	}
}

func TestHMACTokenExpiredFails(t *testing.T) {
	signer, _ := NewHMACTokenSigner("01234567890123456789", "custodes-dextera", "custodes-api")
	p := testPassport()
	p.ExpiresAt = time.Now().Add(-time.Minute)
	token, _ := signer.Issue(p, "")

	_, err := signer.Verify(token, "")
	if err == nil {
		t.Fatal("expected an expired token to fail verification")
	}
}

func TestTokenAcrossSignersWithDifferentKeysFails(t *testing.T) {
	signerA, _ := NewHMACTokenSigner("aaaaaaaaaaaaaaaaaaaa", "custodes-dextera", "custodes-api")
	signerB, _ := NewHMACTokenSigner("bbbbbbbbbbbbbbbbbbbb", "custodes-dextera", "custodes-api")

	token, _ := signerA.Issue(testPassport(), "")
	if _, err := signerB.Verify(token, ""); err == nil {
		t.Fatal("expected verification under a different HMAC key to fail")
	}
}
