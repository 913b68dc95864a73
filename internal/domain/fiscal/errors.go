package fiscal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// ErrStructural indica un error de programación: falta una estructura obligatoria
// completa (documento nulo, sin emisor asociado). No es una violación de negocio.
var ErrStructural = errors.New("fiscal: documento estructuralmente incompleto")

// InvalidInputError entrada mal formada para el generador de claves
// (caracteres no numéricos, campos más largos que su ancho fijo).
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("fiscal: campo %s inválido (%q): %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return domain.ErrInvalidInput }

// InvalidTransitionError transición del ciclo de vida no permitida desde el estado actual.
type InvalidTransitionError struct {
	From entity.DocumentStatus
	To   entity.DocumentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("fiscal: transición inválida de %s a %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return domain.ErrConflict }

// SerializationError intento de serializar un documento no validado o incompleto.
type SerializationError struct {
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fiscal: serialización: %s: %v", e.Reason, e.Err)
	}
	return "fiscal: serialización: " + e.Reason
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConcurrentModificationError conflicto optimista al anexar un evento:
// la secuencia recibida no es la siguiente a la última registrada.
type ConcurrentModificationError struct {
	DocumentID string
	Expected   int
	Got        int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("fiscal: modificación concurrente en documento %s: secuencia esperada %d, recibida %d",
		e.DocumentID, e.Expected, e.Got)
}

func (e *ConcurrentModificationError) Unwrap() error { return domain.ErrConflict }

// ValidationFailure envuelve un resultado de validación con violaciones para
// propagarlo como error cuando la operación no puede continuar.
type ValidationFailure struct {
	Result *ValidationResult
}

func (e *ValidationFailure) Error() string {
	if e.Result == nil || len(e.Result.Violations) == 0 {
		return "fiscal: documento no validado"
	}
	parts := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		parts = append(parts, v.String())
	}
	return "fiscal: validación fallida: " + strings.Join(parts, "; ")
}

func (e *ValidationFailure) Unwrap() error { return domain.ErrInvalidInput }

// AuthorityRejection rechazo de la autoridad; terminal para la clave de acceso.
// Code y Reason se conservan sin modificar para auditoría.
type AuthorityRejection struct {
	Code   string
	Reason string
}

func (e *AuthorityRejection) Error() string {
	return fmt.Sprintf("fiscal: rechazado por la autoridad [%s]: %s", e.Code, e.Reason)
}

// AuthorityUnavailableError la autoridad no respondió tras agotar los reintentos
// (o venció el plazo del llamador). El documento queda pendiente de consulta.
type AuthorityUnavailableError struct {
	Attempts int
	Cause    error
}

func (e *AuthorityUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fiscal: autoridad no disponible tras %d intento(s): %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("fiscal: autoridad no disponible tras %d intento(s)", e.Attempts)
}

func (e *AuthorityUnavailableError) Unwrap() error { return e.Cause }
