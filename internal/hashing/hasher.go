// Package hashing provides Argon2id password hashing with a server-side
// pepper. The encoded format is self-describing so cost parameters can be
// raised without invalidating stored hashes.
package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"estate-auth/internal/config"
)

const saltLength = 16
const keyLength = 32

type Hasher struct {
	pepper      []byte
	memoryCost  uint32
	timeCost    uint32
	parallelism uint8
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		pepper:      []byte(cfg.Hashing.Pepper),
		memoryCost:  uint32(cfg.Hashing.Argon2MemoryCost),
		timeCost:    uint32(cfg.Hashing.Argon2TimeCost),
		parallelism: uint8(cfg.Hashing.Argon2Parallelism),
	}
}

// Hash derives an Argon2id hash of password+pepper under a fresh salt and
// returns it in the standard encoded form.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(append([]byte(password), h.pepper...), salt,
		h.timeCost, h.memoryCost, h.parallelism, keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memoryCost, h.timeCost, h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify checks a password against an encoded hash. The cost parameters come
// from the encoded hash, not the current config, so old hashes keep working.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("incompatible argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("invalid salt encoding: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("invalid key encoding: %w", err)
	}

	key := argon2.IDKey(append([]byte(password), h.pepper...), salt,
		iterations, memory, parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
