package credvault

import (
	"context"
	"fmt"
	"sync"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
)

// storedSecret is a credential record with its value held encrypted.
type storedSecret struct {
	id         int64
	name       string
	ciphertext string
}

// MemoryVault is a process-local domain.CredentialVault. Values are kept
// encrypted in memory and decrypted only inside GetByID/GetByName, so a
// heap dump or accidental log of the vault's internals never exposes
// plaintext — matching the teacher's "decrypt on read, never cache
// plaintext" rule in go/pkg/credentials.Service.GetDecrypted.
type MemoryVault struct {
	mu      sync.RWMutex
	cipher  *cipherSvc
	byID    map[int64]*storedSecret
	byName  map[string]*storedSecret
}

// NewMemoryVault builds a vault encrypting with key (must be 32 bytes;
// see GenerateKey).
func NewMemoryVault(key []byte) (*MemoryVault, error) {
	c, err := newCipherSvc(key)
	if err != nil {
		return nil, err
	}
	return &MemoryVault{
		cipher: c,
		byID:   make(map[int64]*storedSecret),
		byName: make(map[string]*storedSecret),
	}, nil
}

// Put encrypts and stores a credential value, indexed by both id and name.
func (v *MemoryVault) Put(id int64, name, value string) error {
	ciphertext, err := v.cipher.encrypt(value)
	if err != nil {
		return fmt.Errorf("credvault: encrypting credential %q: %w", name, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	rec := &storedSecret{id: id, name: name, ciphertext: ciphertext}
	v.byID[id] = rec
	v.byName[name] = rec
	return nil
}

func (v *MemoryVault) GetByID(ctx context.Context, id int64) (domain.Secret, error) {
	v.mu.RLock()
	rec, ok := v.byID[id]
	v.mu.RUnlock()
	if !ok {
		return domain.Secret{}, fmt.Errorf("credential id %d not found", id)
	}
	plain, err := v.cipher.decrypt(fmt.Sprintf("credential:%d", id), rec.ciphertext)
	if err != nil {
		return domain.Secret{}, err
	}
	return domain.NewSecret(rec.id, rec.name, plain), nil
}

func (v *MemoryVault) GetByName(ctx context.Context, name string) (domain.Secret, error) {
	v.mu.RLock()
	rec, ok := v.byName[name]
	v.mu.RUnlock()
	if !ok {
		return domain.Secret{}, fmt.Errorf("credential %q not found", name)
	}
	plain, err := v.cipher.decrypt(fmt.Sprintf("credential:%s", name), rec.ciphertext)
	if err != nil {
		return domain.Secret{}, err
	}
	return domain.NewSecret(rec.id, rec.name, plain), nil
}
