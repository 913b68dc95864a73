package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

// IssuanceRepos repositorios atados a una misma transacción.
type IssuanceRepos struct {
	Documents repository.DocumentRepository
	Events    repository.EventLedger
	Series    repository.SeriesRepository
	Ranges    repository.VoidedRangeRepository
}

// IssuanceTxRunner ejecuta fn dentro de una transacción: si fn retorna error
// no queda ningún cambio (ni evento anexado ni número consumido).
type IssuanceTxRunner interface {
	RunIssuance(ctx context.Context, fn func(repos IssuanceRepos) error) error
}

// Authority cliente de la autoridad fiscal. Nunca devuelve error: el
// agotamiento de reintentos se expresa con el veredicto service_unavailable.
type Authority interface {
	Submit(ctx context.Context, doc *entity.Document, payload []byte) *fiscal.AuthorityResponse
	QueryStatus(ctx context.Context, accessKey string) *fiscal.AuthorityResponse
	Cancel(ctx context.Context, req fiscal.CancelRequest) *fiscal.AuthorityResponse
	Correct(ctx context.Context, req fiscal.CorrectionRequest) *fiscal.AuthorityResponse
	VoidRange(ctx context.Context, req fiscal.VoidRangeRequest) *fiscal.AuthorityResponse
}

// Serializer produce el XML canónico de un documento validado.
type Serializer interface {
	Serialize(doc *entity.Document, result *fiscal.ValidationResult) ([]byte, error)
}

// PayloadSigner firma el XML serializado. En desarrollo puede devolverlo sin firmar.
type PayloadSigner interface {
	SignPayload(xmlBytes []byte) ([]byte, error)
}

// ReceivableCreated aviso al módulo de cobranzas de un documento autorizado.
type ReceivableCreated struct {
	DocumentID     string          `json:"document_id"`
	IssuerID       string          `json:"issuer_id"`
	AccessKey      string          `json:"access_key"`
	RecipientTaxID string          `json:"recipient_tax_id"`
	Total          decimal.Decimal `json:"total"`
	PaymentMeans   string          `json:"payment_means,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	AuthorizedAt   time.Time       `json:"authorized_at"`
}

// ReceivableNotifier publica ReceivableCreated. Las fallas se registran y no
// afectan al documento.
type ReceivableNotifier interface {
	NotifyReceivable(ctx context.Context, ev ReceivableCreated) error
}

// PayloadArchive guarda el XML autorizado y devuelve su ubicación.
type PayloadArchive interface {
	Archive(ctx context.Context, issuerID, accessKey string, payload []byte) (string, error)
}

// DocumentRenderer genera la representación gráfica (PDF) del documento.
type DocumentRenderer interface {
	Render(ctx context.Context, doc *entity.Document, history []entity.FiscalEvent) ([]byte, error)
}

// IssuanceMetrics contadores del pipeline. Implementación opcional.
type IssuanceMetrics interface {
	ObserveTransition(from, to entity.DocumentStatus)
	ObserveLedgerConflict()
}
