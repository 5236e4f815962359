package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if err == nil {
		t.Fatal("expected ParseToken() to fail for expired token")
	}
}

func TestParseTokenRejectsTamperedSignature(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken([]byte("other-secret"), issued)
	if err == nil {
		t.Fatal("expected ParseToken() to fail for wrong secret")
	}
}

func TestWriteKeyDisabledAcceptsAnything(t *testing.T) {
	key := NewWriteKey("")
	if key.Enabled() {
		t.Fatal("empty hash must disable the gate")
	}
	if !key.Verify("whatever") {
		t.Fatal("disabled gate must accept any key")
	}
}

func TestWriteKeyVerify(t *testing.T) {
	hash, err := HashWriteKey("open-sesame")
	if err != nil {
		t.Fatalf("HashWriteKey() error = %v", err)
	}
	key := NewWriteKey(hash)
	if !key.Verify("open-sesame") {
		t.Fatal("expected correct key to verify")
	}
	if key.Verify("wrong") {
		t.Fatal("expected wrong key to fail")
	}
}
