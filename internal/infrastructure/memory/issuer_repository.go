package memory

import (
	"context"
	"strings"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

var (
	_ repository.IssuerRepository = (*IssuerRepo)(nil)
	_ repository.UserRepository   = (*UserRepo)(nil)
)

// IssuerRepo emisores en memoria.
type IssuerRepo struct {
	store *Store
}

// NewIssuerRepository construye el repositorio sobre store.
func NewIssuerRepository(store *Store) *IssuerRepo {
	return &IssuerRepo{store: store}
}

func (r *IssuerRepo) Create(_ context.Context, issuer *entity.Issuer) error {
	return r.store.access(false, func(d *state) error {
		taxID := string(pkgfiscal.ExtractDigits(issuer.Profile.TaxID))
		for _, other := range d.issuers {
			if other.ID == issuer.ID || string(pkgfiscal.ExtractDigits(other.Profile.TaxID)) == taxID {
				return domain.ErrDuplicate
			}
		}
		c := *issuer
		d.issuers[issuer.ID] = &c
		return nil
	})
}

func (r *IssuerRepo) GetByID(_ context.Context, id string) (*entity.Issuer, error) {
	var out *entity.Issuer
	err := r.store.access(false, func(d *state) error {
		i, ok := d.issuers[id]
		if !ok {
			return domain.ErrNotFound
		}
		c := *i
		out = &c
		return nil
	})
	return out, err
}

func (r *IssuerRepo) GetByTaxID(_ context.Context, taxID string) (*entity.Issuer, error) {
	want := string(pkgfiscal.ExtractDigits(taxID))
	var out *entity.Issuer
	err := r.store.access(false, func(d *state) error {
		for _, i := range d.issuers {
			if string(pkgfiscal.ExtractDigits(i.Profile.TaxID)) == want {
				c := *i
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *IssuerRepo) Update(_ context.Context, issuer *entity.Issuer) error {
	return r.store.access(false, func(d *state) error {
		if _, ok := d.issuers[issuer.ID]; !ok {
			return domain.ErrNotFound
		}
		c := *issuer
		d.issuers[issuer.ID] = &c
		return nil
	})
}

// UserRepo operadores en memoria.
type UserRepo struct {
	store *Store
}

// NewUserRepository construye el repositorio sobre store.
func NewUserRepository(store *Store) *UserRepo {
	return &UserRepo{store: store}
}

func (r *UserRepo) Create(_ context.Context, user *entity.User) error {
	return r.store.access(false, func(d *state) error {
		for _, u := range d.users {
			if strings.EqualFold(u.Email, user.Email) {
				return domain.ErrEmailAlreadyExists
			}
		}
		c := *user
		d.users[user.ID] = &c
		return nil
	})
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*entity.User, error) {
	var out *entity.User
	err := r.store.access(false, func(d *state) error {
		u, ok := d.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		c := *u
		out = &c
		return nil
	})
	return out, err
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	var out *entity.User
	err := r.store.access(false, func(d *state) error {
		for _, u := range d.users {
			if strings.EqualFold(u.Email, email) {
				c := *u
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *UserRepo) ListByIssuer(_ context.Context, issuerID string) ([]*entity.User, error) {
	var out []*entity.User
	err := r.store.access(false, func(d *state) error {
		for _, u := range d.users {
			if u.IssuerID == issuerID {
				c := *u
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}
