package crypto

import (
	"fmt"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/painelssh/sshpanel/internal/database"
	"gorm.io/gorm"
)

const keySetting = "fernet_key"

// Vault encrypts server secrets at rest with a Fernet key kept in the
// settings table. The key is read on every call so a restored database
// brings its own key along.
type Vault struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewVault(db *gorm.DB) *Vault {
	return &Vault{db: db}
}

// EnsureKey creates the key if the database has none yet.
func (v *Vault) EnsureKey() error {
	_, err := v.key()
	return err
}

func (v *Vault) key() (*fernet.Key, error) {
	keyStr, err := database.GetSetting(v.db, keySetting)
	if err != nil {
		if !database.IsNotFound(err) {
			return nil, fmt.Errorf("load fernet key: %w", err)
		}
		if keyStr, err = v.createKey(); err != nil {
			return nil, err
		}
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

// createKey stores a fresh key unless another caller got there first, and
// returns the stored one either way.
func (v *Vault) createKey() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate fernet key: %w", err)
	}
	stored, err := database.EnsureSetting(v.db, keySetting, k.Encode())
	if err != nil {
		return "", fmt.Errorf("save fernet key: %w", err)
	}
	return stored, nil
}

// Encrypt returns a Fernet token for plaintext. Empty input stays empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := v.key()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := v.key()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of value.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
