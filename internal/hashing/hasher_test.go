package hashing

import (
	"strings"
	"testing"

	"estate-auth/internal/config"
)

func testHasher() *Hasher {
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Pepper:            "test-pepper",
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("S3cure!Pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Errorf("unexpected hash format: %q", encoded)
	}

	ok, err := h.Verify("S3cure!Pass", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("correct password should verify")
	}

	ok, err = h.Verify("wrong-password", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("wrong password must not verify")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher()

	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Error("two hashes of the same password should differ")
	}
}

func TestPepperAffectsVerification(t *testing.T) {
	h := testHasher()
	encoded, _ := h.Hash("S3cure!Pass")

	other := NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Pepper:            "different-pepper",
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
	if ok, _ := other.Verify("S3cure!Pass", encoded); ok {
		t.Error("hash must not verify under a different pepper")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := testHasher()
	if _, err := h.Verify("password", "not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}
