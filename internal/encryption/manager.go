// Package encryption implements envelope encryption for sensitive fields at
// rest. Each field is sealed with a fresh AES-256-GCM data key; the data key
// itself is encrypted by AWS KMS and stored alongside the ciphertext. In
// development KMS is disabled and the data key travels base64-encoded, which
// keeps the storage format identical without requiring AWS credentials.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"estate-auth/internal/config"
	"estate-auth/internal/util"
)

type envelope struct {
	EncryptedKey string `json:"ek"`
	Nonce        string `json:"n"`
	Ciphertext   string `json:"ct"`
}

type cachedKey struct {
	plaintext []byte
	expiresAt time.Time
}

type Manager struct {
	kmsClient *kms.Client
	keyID     string
	enabled   bool
	logger    *zap.Logger

	// decrypted data keys, keyed by their encrypted form
	keyCache sync.Map
}

func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		keyID:   cfg.KMS.KeyID,
		enabled: cfg.KMS.Enabled,
		logger:  logger,
	}

	if m.enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.KMS.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		m.kmsClient = kms.NewFromConfig(awsCfg)
		util.Info("Encryption manager initialized with KMS",
			zap.String("key_id", cfg.KMS.KeyID),
			zap.String("region", cfg.KMS.Region),
		)
	} else {
		util.Warn("Encryption manager running in local mode, data keys are not KMS-protected")
	}

	return m, nil
}

// EncryptField seals a plaintext field and returns a base64 envelope suitable
// for storage in a text column.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (string, error) {
	dataKey, encryptedKey, err := m.generateDataKey(ctx)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ct := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	env := envelope{
		EncryptedKey: base64.StdEncoding.EncodeToString(encryptedKey),
		Nonce:        base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:   base64.StdEncoding.EncodeToString(ct),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecryptField opens a stored envelope and returns the plaintext field.
func (m *Manager) DecryptField(ctx context.Context, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid envelope encoding: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("invalid envelope: %w", err)
	}

	encryptedKey, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("invalid encrypted key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("invalid nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}

	dataKey, err := m.decryptDataKey(ctx, encryptedKey)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt field: %w", err)
	}
	return string(plaintext), nil
}

func (m *Manager) generateDataKey(ctx context.Context) (plaintext, encrypted []byte, err error) {
	if !m.enabled {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, fmt.Errorf("failed to generate data key: %w", err)
		}
		// Local mode: the "encrypted" key is just the key itself.
		return key, key, nil
	}

	out, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   &m.keyID,
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("KMS GenerateDataKey failed: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (m *Manager) decryptDataKey(ctx context.Context, encrypted []byte) ([]byte, error) {
	if !m.enabled {
		return encrypted, nil
	}

	cacheKey := base64.StdEncoding.EncodeToString(encrypted)
	if v, ok := m.keyCache.Load(cacheKey); ok {
		entry := v.(cachedKey)
		if time.Now().Before(entry.expiresAt) {
			return entry.plaintext, nil
		}
		m.keyCache.Delete(cacheKey)
	}

	out, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: encrypted,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS Decrypt failed: %w", err)
	}

	m.keyCache.Store(cacheKey, cachedKey{
		plaintext: out.Plaintext,
		expiresAt: time.Now().Add(10 * time.Minute),
	})
	return out.Plaintext, nil
}
