package auth

import (
	"strings"
	"testing"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	i := NewIssuer("test-secret")

	tok, err := i.Issue("a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	email, err := i.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if email != "a@x.com" {
		t.Errorf("email = %q, want a@x.com", email)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := NewIssuer("secret-a").Issue("a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewIssuer("secret-b").Verify(tok); err == nil {
		t.Error("expected verification failure with wrong secret")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	i := NewIssuer("test-secret")
	tok, err := i.Issue("a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(tok, ".")
	tampered := parts[0] + ".eyJlbWFpbCI6ImV2aWxAeC5jb20ifQ." + parts[2]
	if _, err := i.Verify(tampered); err == nil {
		t.Error("expected verification failure for tampered token")
	}
}

func TestIssueRejectsEmptyEmail(t *testing.T) {
	if _, err := NewIssuer("s").Issue(""); err == nil {
		t.Error("expected error for empty email")
	}
}
