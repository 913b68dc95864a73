package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/fiscal-api/internal/application/auth"
	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// IssuerUseCase alta y mantenimiento de emisores (tenants).
type IssuerUseCase struct {
	issuers repository.IssuerRepository
	users   repository.UserRepository
	now     func() time.Time
}

// NewIssuerUseCase construye el caso de uso con los puertos de persistencia.
func NewIssuerUseCase(issuers repository.IssuerRepository, users repository.UserRepository) *IssuerUseCase {
	return &IssuerUseCase{issuers: issuers, users: users, now: time.Now}
}

// Register crea el emisor y su primer operador con rol admin.
// Devuelve domain.ErrDuplicate si el CNPJ ya está registrado.
func (uc *IssuerUseCase) Register(ctx context.Context, in dto.RegisterIssuerRequest) (*dto.RegisterIssuerResponse, error) {
	now := uc.now()
	issuer := &entity.Issuer{
		ID:            uuid.New().String(),
		RegionCode:    strings.TrimSpace(in.RegionCode),
		EmissionMode:  in.EmissionMode,
		DefaultKind:   in.DefaultKind,
		DefaultSeries: in.DefaultSeries,
		Status:        entity.IssuerActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := applyProfile(issuer, in.Profile); err != nil {
		return nil, err
	}
	if issuer.EmissionMode == "" {
		issuer.EmissionMode = pkgfiscal.EmissionNormal
	}
	if issuer.DefaultKind == "" {
		issuer.DefaultKind = pkgfiscal.DocKindNFe
	}
	if issuer.DefaultSeries == 0 {
		issuer.DefaultSeries = 1
	}
	if err := checkIssuer(issuer); err != nil {
		return nil, err
	}

	admin, err := auth.NewUser(issuer.ID, dto.CreateUserRequest{
		Email:    in.AdminEmail,
		Password: in.AdminPassword,
		Name:     in.AdminName,
		Role:     entity.RoleAdmin,
	}, now)
	if err != nil {
		return nil, err
	}
	if _, err := uc.users.GetByEmail(ctx, admin.Email); err == nil {
		return nil, domain.ErrEmailAlreadyExists
	}
	if err := uc.issuers.Create(ctx, issuer); err != nil {
		return nil, err
	}
	if err := uc.users.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("emisor %s creado sin operador: %w", issuer.ID, err)
	}
	return &dto.RegisterIssuerResponse{
		Issuer: dto.NewIssuerResponse(issuer),
		Admin:  dto.NewUserResponse(admin),
	}, nil
}

// GetByID obtiene un emisor por ID.
func (uc *IssuerUseCase) GetByID(ctx context.Context, id string) (*dto.IssuerResponse, error) {
	issuer, err := uc.issuers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := dto.NewIssuerResponse(issuer)
	return &out, nil
}

// Update modifica el perfil vivo del emisor. El CNPJ no cambia; los
// documentos ya creados conservan su instantánea.
func (uc *IssuerUseCase) Update(ctx context.Context, id string, in dto.UpdateIssuerRequest) (*dto.IssuerResponse, error) {
	issuer, err := uc.issuers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Profile != nil {
		taxID := issuer.Profile.TaxID
		if err := applyProfile(issuer, *in.Profile); err != nil {
			return nil, err
		}
		if string(pkgfiscal.ExtractDigits(issuer.Profile.TaxID)) != string(pkgfiscal.ExtractDigits(taxID)) {
			return nil, fmt.Errorf("%w: el CNPJ del emisor no puede cambiar", domain.ErrInvalidInput)
		}
	}
	if in.EmissionMode != nil {
		issuer.EmissionMode = *in.EmissionMode
	}
	if in.DefaultSeries != nil {
		issuer.DefaultSeries = *in.DefaultSeries
	}
	if in.Status != nil {
		switch *in.Status {
		case entity.IssuerActive, entity.IssuerSuspended:
			issuer.Status = *in.Status
		default:
			return nil, fmt.Errorf("%w: estado %q desconocido", domain.ErrInvalidInput, *in.Status)
		}
	}
	if err := checkIssuer(issuer); err != nil {
		return nil, err
	}
	issuer.UpdatedAt = uc.now()
	if err := uc.issuers.Update(ctx, issuer); err != nil {
		return nil, err
	}
	out := dto.NewIssuerResponse(issuer)
	return &out, nil
}

func applyProfile(issuer *entity.Issuer, p dto.PartyInput) error {
	issuer.Profile = entity.Party{
		Kind:                  entity.PartyOrganization,
		TaxID:                 string(pkgfiscal.ExtractDigits(p.TaxID)),
		LegalName:             strings.TrimSpace(p.LegalName),
		TradeName:             strings.TrimSpace(p.TradeName),
		StateRegistration:     p.StateRegistration,
		MunicipalRegistration: p.MunicipalRegistration,
		Email:                 p.Email,
		Address: entity.Address{
			Street:     p.Address.Street,
			Number:     p.Address.Number,
			Complement: p.Address.Complement,
			District:   p.Address.District,
			CityCode:   p.Address.CityCode,
			City:       p.Address.City,
			State:      strings.ToUpper(p.Address.State),
			PostalCode: p.Address.PostalCode,
			Country:    p.Address.Country,
		},
	}
	if err := pkgfiscal.ValidateOrganizationTaxID(issuer.Profile.TaxID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if issuer.Profile.LegalName == "" {
		return fmt.Errorf("%w: razón social obligatoria", domain.ErrInvalidInput)
	}
	if issuer.RegionCode == "" {
		issuer.RegionCode = pkgfiscal.RegionCodeForState(issuer.Profile.Address.State)
	}
	return nil
}

func checkIssuer(issuer *entity.Issuer) error {
	switch {
	case len(issuer.RegionCode) != 2:
		return fmt.Errorf("%w: código de región %q inválido", domain.ErrInvalidInput, issuer.RegionCode)
	case !pkgfiscal.ValidEmissionModes[issuer.EmissionMode]:
		return fmt.Errorf("%w: forma de emisión %q inválida", domain.ErrInvalidInput, issuer.EmissionMode)
	case !pkgfiscal.ValidDocKinds[issuer.DefaultKind]:
		return fmt.Errorf("%w: modelo %q inválido", domain.ErrInvalidInput, issuer.DefaultKind)
	case issuer.DefaultSeries < 0 || issuer.DefaultSeries > 999:
		return fmt.Errorf("%w: serie %d fuera de rango", domain.ErrInvalidInput, issuer.DefaultSeries)
	}
	return nil
}
