package auth

import (
	"strings"
	"testing"
)

// Hashes generated by the legacy service; the format must stay
// byte-compatible so existing user rows keep working.
const (
	secretHash = "pbkdf2_sha256$60000$0123456789abcdef0123456789abcdef$de5tZAAwWLa3vh7oKpulME/fGR7GClUUwLLRcT7fZsE="
	stapleHash = "pbkdf2_sha256$60000$00112233445566778899aabbccddeeff$TtXAV/cFBlV5hj/oRMyhsXVFWSsm5ZfDbxme8AbCTG4="
	// Written with a lower iteration count than the current default.
	oldIterHash = "pbkdf2_sha256$1000$0123456789abcdef0123456789abcdef$ujz+aolohjPU2LyO2DO22ssaDSuiXk6JDd64+xp16bc="
)

func TestVerifyKnownHashes(t *testing.T) {
	h := NewHasher("pbkdf2_sha256", 60000)

	tests := []struct {
		name     string
		password string
		encoded  string
		want     bool
	}{
		{"correct password", "secret", secretHash, true},
		{"wrong password", "Secret", secretHash, false},
		{"empty password", "", secretHash, false},
		{"passphrase", "correct horse battery staple", stapleHash, true},
		{"stored iterations win over configured", "secret", oldIterHash, true},
		{"wrong password old iterations", "hunter2", oldIterHash, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Verify(tt.password, tt.encoded); got != tt.want {
				t.Errorf("Verify(%q) = %v, want %v", tt.password, got, tt.want)
			}
		})
	}
}

func TestVerifyMalformed(t *testing.T) {
	h := NewHasher("pbkdf2_sha256", 60000)

	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"too few parts", "pbkdf2_sha256$60000$salt"},
		{"too many parts", "pbkdf2_sha256$60000$salt$digest$extra"},
		{"non-numeric iterations", "pbkdf2_sha256$lots$0123456789abcdef0123456789abcdef$de5tZAAwWLa3vh7oKpulME/fGR7GClUUwLLRcT7fZsE="},
		{"zero iterations", "pbkdf2_sha256$0$0123456789abcdef0123456789abcdef$de5tZAAwWLa3vh7oKpulME/fGR7GClUUwLLRcT7fZsE="},
		{"invalid base64 digest", "pbkdf2_sha256$60000$0123456789abcdef0123456789abcdef$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h.Verify("secret", tt.encoded) {
				t.Errorf("Verify(%q) = true, want false", tt.encoded)
			}
		})
	}
}

func TestHashRoundTrip(t *testing.T) {
	h := NewHasher("pbkdf2_sha256", 1000)

	encoded, err := h.Hash("s3cr3t-value")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		t.Fatalf("encoded hash has %d parts, want 4: %q", len(parts), encoded)
	}
	if parts[0] != "pbkdf2_sha256" {
		t.Errorf("algorithm = %q, want pbkdf2_sha256", parts[0])
	}
	if parts[1] != "1000" {
		t.Errorf("iterations = %q, want 1000", parts[1])
	}
	if len(parts[2]) != 32 {
		t.Errorf("salt length = %d, want 32 hex chars", len(parts[2]))
	}

	if !h.Verify("s3cr3t-value", encoded) {
		t.Error("Verify() = false for freshly hashed password")
	}
	if h.Verify("other-value", encoded) {
		t.Error("Verify() = true for wrong password")
	}
}

func TestHashSaltsDiffer(t *testing.T) {
	h := NewHasher("pbkdf2_sha256", 1000)

	a, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	b, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical; salt is not random")
	}
}
