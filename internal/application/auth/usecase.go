package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	"github.com/jhoicas/fiscal-api/pkg/jwt"
)

// JWTConfig configuración para generación de tokens.
type JWTConfig struct {
	Secret     string
	ExpMinutes int
	Issuer     string
}

// AuthUseCase casos de uso de autenticación: alta de operadores y login.
type AuthUseCase struct {
	userRepo   repository.UserRepository
	issuerRepo repository.IssuerRepository
	jwtCfg     JWTConfig
	now        func() time.Time
}

// NewAuthUseCase construye el caso de uso de auth.
func NewAuthUseCase(userRepo repository.UserRepository, issuerRepo repository.IssuerRepository, jwtCfg JWTConfig) *AuthUseCase {
	return &AuthUseCase{userRepo: userRepo, issuerRepo: issuerRepo, jwtCfg: jwtCfg, now: time.Now}
}

// CreateUser crea un operador del emisor: hashea el password con bcrypt y
// persiste. Devuelve ErrEmailAlreadyExists si el email ya está registrado.
func (uc *AuthUseCase) CreateUser(ctx context.Context, issuerID string, in dto.CreateUserRequest) (*dto.UserResponse, error) {
	user, err := NewUser(issuerID, in, uc.now())
	if err != nil {
		return nil, err
	}
	if _, err := uc.issuerRepo.GetByID(ctx, issuerID); err != nil {
		return nil, err
	}
	if err := uc.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	out := dto.NewUserResponse(user)
	return &out, nil
}

// ListUsers operadores del emisor.
func (uc *AuthUseCase) ListUsers(ctx context.Context, issuerID string) ([]dto.UserResponse, error) {
	users, err := uc.userRepo.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, dto.NewUserResponse(u))
	}
	return out, nil
}

// Login verifica email/password, genera JWT y retorna token + usuario.
// Un operador de un emisor suspendido no puede autenticarse.
func (uc *AuthUseCase) Login(ctx context.Context, in dto.LoginRequest) (*dto.LoginResponse, error) {
	if err := dto.Check(in); err != nil {
		return nil, err
	}
	user, err := uc.userRepo.GetByEmail(ctx, strings.TrimSpace(in.Email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, domain.ErrUnauthorized
	}
	if user.Status != "active" {
		return nil, domain.ErrForbidden
	}
	issuer, err := uc.issuerRepo.GetByID(ctx, user.IssuerID)
	if err != nil {
		return nil, err
	}
	if !issuer.Active() {
		return nil, domain.ErrIssuerInactive
	}
	token, err := jwt.Generate(uc.jwtCfg.Secret, user.ID, user.IssuerID, user.Role, uc.jwtCfg.Issuer, uc.jwtCfg.ExpMinutes)
	if err != nil {
		return nil, err
	}
	return &dto.LoginResponse{
		Token: token,
		User:  dto.NewUserResponse(user),
	}, nil
}

// NewUser valida la entrada y construye el operador con el password hasheado.
func NewUser(issuerID string, in dto.CreateUserRequest, now time.Time) (*entity.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := dto.Check(in); err != nil {
		return nil, err
	}
	email := in.Email
	role := in.Role
	if role == "" {
		role = entity.RoleIssuer
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = email
	}
	return &entity.User{
		ID:           uuid.New().String(),
		IssuerID:     issuerID,
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         role,
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
