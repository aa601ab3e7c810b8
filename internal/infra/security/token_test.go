package security

import "testing"

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("generate session id: %v", err)
		}
		if len(id) < 43 {
			t.Fatalf("session id %q shorter than 256 bits of entropy", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateSecureTokenRejectsNonPositiveLength(t *testing.T) {
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatal("zero length accepted")
	}
	if _, err := GenerateSecureToken(-1); err == nil {
		t.Fatal("negative length accepted")
	}
}

func TestHashToken(t *testing.T) {
	hashed := HashToken("session-1")
	if hashed == "session-1" {
		t.Fatal("hash equals the input")
	}
	if len(hashed) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(hashed))
	}
	if hashed != HashToken("session-1") {
		t.Fatal("hash not deterministic")
	}
	if hashed == HashToken("session-2") {
		t.Fatal("distinct inputs collide")
	}
}
