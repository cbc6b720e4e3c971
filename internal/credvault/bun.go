package credvault

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
)

// BunVault is a Postgres-backed domain.CredentialVault, grounded on the
// teacher's repository.CredentialsRepository + go/pkg/credentials.Service
// pairing: the repository stores ciphertext rows, the service layer
// decrypts on read. Here both collapse into one type scoped to the
// execution core's narrow GetByID/GetByName contract.
type BunVault struct {
	db     *bun.DB
	cipher *cipherSvc
}

func NewBunVault(db *bun.DB, key []byte) (*BunVault, error) {
	c, err := newCipherSvc(key)
	if err != nil {
		return nil, err
	}
	return &BunVault{db: db, cipher: c}, nil
}

type credentialModel struct {
	bun.BaseModel `bun:"table:credentials,alias:c"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Name       string    `bun:"name,unique"`
	Ciphertext string    `bun:"ciphertext"`
	CreatedAt  time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

func (v *BunVault) InitSchema(ctx context.Context) error {
	_, err := v.db.NewCreateTable().Model((*credentialModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Put encrypts and upserts a credential by name.
func (v *BunVault) Put(ctx context.Context, name, value string) error {
	ciphertext, err := v.cipher.encrypt(value)
	if err != nil {
		return fmt.Errorf("credvault: encrypting credential %q: %w", name, err)
	}
	model := &credentialModel{Name: name, Ciphertext: ciphertext}
	_, err = v.db.NewInsert().Model(model).On("CONFLICT (name) DO UPDATE").Exec(ctx)
	return err
}

func (v *BunVault) GetByID(ctx context.Context, id int64) (domain.Secret, error) {
	model := new(credentialModel)
	if err := v.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.Secret{}, fmt.Errorf("credential id %d: %w", id, err)
	}
	plain, err := v.cipher.decrypt(fmt.Sprintf("credential:%d", id), model.Ciphertext)
	if err != nil {
		return domain.Secret{}, err
	}
	return domain.NewSecret(model.ID, model.Name, plain), nil
}

func (v *BunVault) GetByName(ctx context.Context, name string) (domain.Secret, error) {
	model := new(credentialModel)
	if err := v.db.NewSelect().Model(model).Where("name = ?", name).Scan(ctx); err != nil {
		return domain.Secret{}, fmt.Errorf("credential %q: %w", name, err)
	}
	plain, err := v.cipher.decrypt(fmt.Sprintf("credential:%s", name), model.Ciphertext)
	if err != nil {
		return domain.Secret{}, err
	}
	return domain.NewSecret(model.ID, model.Name, plain), nil
}
