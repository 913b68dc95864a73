package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

var (
	_ repository.IssuerRepository = (*IssuerRepo)(nil)
	_ repository.UserRepository   = (*UserRepo)(nil)
)

// IssuerRepo implementación de IssuerRepository. El perfil fiscal se guarda
// como JSONB; tax_id se duplica en columna para el índice único.
type IssuerRepo struct {
	q Querier
}

// NewIssuerRepository construye el adaptador. Pasar pool o tx (Querier).
func NewIssuerRepository(q Querier) *IssuerRepo {
	return &IssuerRepo{q: q}
}

const issuerColumns = `id, profile, region_code, emission_mode, default_kind, default_series, status, created_at, updated_at`

// Create persiste el emisor. CNPJ repetido → domain.ErrDuplicate.
func (r *IssuerRepo) Create(ctx context.Context, issuer *entity.Issuer) error {
	if issuer.ID == "" {
		issuer.ID = uuid.New().String()
	}
	now := time.Now()
	if issuer.CreatedAt.IsZero() {
		issuer.CreatedAt = now
	}
	if issuer.UpdatedAt.IsZero() {
		issuer.UpdatedAt = now
	}
	query := `
		INSERT INTO issuers (id, tax_id, profile, region_code, emission_mode, default_kind, default_series, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		issuer.ID, string(pkgfiscal.ExtractDigits(issuer.Profile.TaxID)), issuer.Profile,
		issuer.RegionCode, issuer.EmissionMode, issuer.DefaultKind, issuer.DefaultSeries, issuer.Status,
		issuer.CreatedAt, issuer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: emisor %s", domain.ErrDuplicate, issuer.Profile.TaxID)
		}
		return fmt.Errorf("insert issuer: %w", err)
	}
	return nil
}

// GetByID obtiene un emisor por ID.
func (r *IssuerRepo) GetByID(ctx context.Context, id string) (*entity.Issuer, error) {
	return r.getOne(ctx, `SELECT `+issuerColumns+` FROM issuers WHERE id = $1`, id)
}

// GetByTaxID obtiene un emisor por CNPJ (con o sin máscara).
func (r *IssuerRepo) GetByTaxID(ctx context.Context, taxID string) (*entity.Issuer, error) {
	return r.getOne(ctx, `SELECT `+issuerColumns+` FROM issuers WHERE tax_id = $1`, string(pkgfiscal.ExtractDigits(taxID)))
}

// Update reemplaza perfil, parámetros y estado.
func (r *IssuerRepo) Update(ctx context.Context, issuer *entity.Issuer) error {
	query := `
		UPDATE issuers
		SET profile        = $2,
		    region_code    = $3,
		    emission_mode  = $4,
		    default_kind   = $5,
		    default_series = $6,
		    status         = $7,
		    updated_at     = $8
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		issuer.ID, issuer.Profile, issuer.RegionCode, issuer.EmissionMode, issuer.DefaultKind,
		issuer.DefaultSeries, issuer.Status, issuer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update issuer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *IssuerRepo) getOne(ctx context.Context, query, arg string) (*entity.Issuer, error) {
	var i entity.Issuer
	err := r.q.QueryRow(ctx, query, arg).Scan(
		&i.ID, &i.Profile, &i.RegionCode, &i.EmissionMode, &i.DefaultKind, &i.DefaultSeries,
		&i.Status, &i.CreatedAt, &i.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issuer: %w", err)
	}
	return &i, nil
}

// UserRepo implementación de UserRepository. El email es único sin distinguir mayúsculas.
type UserRepo struct {
	q Querier
}

// NewUserRepository construye el adaptador. Pasar pool o tx (Querier).
func NewUserRepository(q Querier) *UserRepo {
	return &UserRepo{q: q}
}

const userColumns = `id, issuer_id, email, password_hash, name, role, status, created_at, updated_at`

// Create persiste el operador. Email repetido → domain.ErrEmailAlreadyExists.
func (r *UserRepo) Create(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	_, err := r.q.Exec(ctx, `INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.IssuerID, strings.ToLower(user.Email), user.PasswordHash, user.Name, user.Role, user.Status,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID obtiene un operador por ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail obtiene un operador por email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// ListByIssuer operadores del emisor ordenados por email.
func (r *UserRepo) ListByIssuer(ctx context.Context, issuerID string) ([]*entity.User, error) {
	rows, err := r.q.Query(ctx, `SELECT `+userColumns+` FROM users WHERE issuer_id = $1 ORDER BY email`, issuerID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UserRepo) getOne(ctx context.Context, query, arg string) (*entity.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*entity.User, error) {
	var u entity.User
	if err := row.Scan(&u.ID, &u.IssuerID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
