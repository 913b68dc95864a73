package entity

import "time"

// Roles válidos para User.
const (
	RoleAdmin   = "admin"   // Emite, cancela e inutiliza
	RoleIssuer  = "emisor"  // Crea y envía documentos
	RoleAuditor = "auditor" // Solo lectura
)

// User operador de un emisor.
type User struct {
	ID           string
	IssuerID     string
	Email        string
	PasswordHash string // bcrypt
	Name         string
	Role         string // admin, emisor, auditor
	Status       string // active, inactive, suspended
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
