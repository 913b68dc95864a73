package dto

import (
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// RegisterIssuerRequest alta de un emisor junto con su primer operador (admin).
type RegisterIssuerRequest struct {
	Profile       PartyInput `json:"profile"`
	RegionCode    string     `json:"region_code,omitempty"`
	EmissionMode  string     `json:"emission_mode,omitempty"`
	DefaultKind   string     `json:"default_kind,omitempty"`
	DefaultSeries int        `json:"default_series,omitempty"`
	AdminEmail    string     `json:"admin_email"`
	AdminPassword string     `json:"admin_password"`
	AdminName     string     `json:"admin_name,omitempty"`
}

// UpdateIssuerRequest actualización del perfil (campos opcionales).
// Los documentos ya creados conservan su instantánea.
type UpdateIssuerRequest struct {
	Profile       *PartyInput `json:"profile,omitempty"`
	EmissionMode  *string     `json:"emission_mode,omitempty"`
	DefaultSeries *int        `json:"default_series,omitempty"`
	Status        *string     `json:"status,omitempty"` // active | suspended
}

// IssuerResponse salida de un emisor.
type IssuerResponse struct {
	ID            string        `json:"id"`
	Profile       PartyResponse `json:"profile"`
	RegionCode    string        `json:"region_code"`
	EmissionMode  string        `json:"emission_mode"`
	DefaultKind   string        `json:"default_kind"`
	DefaultSeries int           `json:"default_series"`
	Status        string        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// RegisterIssuerResponse emisor creado y su operador admin.
type RegisterIssuerResponse struct {
	Issuer IssuerResponse `json:"issuer"`
	Admin  UserResponse   `json:"admin"`
}

// NewIssuerResponse mapea la entidad.
func NewIssuerResponse(i *entity.Issuer) IssuerResponse {
	return IssuerResponse{
		ID:            i.ID,
		Profile:       newPartyResponse(i.Profile),
		RegionCode:    i.RegionCode,
		EmissionMode:  i.EmissionMode,
		DefaultKind:   i.DefaultKind,
		DefaultSeries: i.DefaultSeries,
		Status:        i.Status,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

// NewUserResponse mapea la entidad sin el hash del password.
func NewUserResponse(u *entity.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		IssuerID:  u.IssuerID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
