package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

const tracerName = "github.com/jhoicas/fiscal-api/internal/application/billing"

// Límites del envío en lote.
const (
	DefaultBatchParallelism = 4
	MaxBatchParallelism     = 16
)

// backgroundTimeout plazo de archivo y aviso de cobranza tras una autorización.
const backgroundTimeout = 30 * time.Second

// IssuanceDeps dependencias del servicio. Notifier, Archive y Metrics son opcionales.
type IssuanceDeps struct {
	Tx         IssuanceTxRunner
	Documents  repository.DocumentRepository
	Ledger     repository.EventLedger
	Ranges     repository.VoidedRangeRepository
	Issuers    repository.IssuerRepository
	Lifecycle  *fiscal.Lifecycle
	Serializer Serializer
	Signer     PayloadSigner
	Authority  Authority
	Notifier   ReceivableNotifier
	Archive    PayloadArchive
	Metrics    IssuanceMetrics
}

// IssuanceService orquesta el pipeline de emisión:
//
//	validar → clave de acceso → serializar → firmar → submitted → autoridad → veredicto
//
// Las llamadas a la autoridad se hacen siempre fuera de las transacciones; el
// veredicto se aplica en una transacción que anexa el evento y actualiza el
// documento de forma condicional a su versión.
type IssuanceService struct {
	tx         IssuanceTxRunner
	documents  repository.DocumentRepository
	ledger     repository.EventLedger
	ranges     repository.VoidedRangeRepository
	issuers    repository.IssuerRepository
	lifecycle  *fiscal.Lifecycle
	serializer Serializer
	signer     PayloadSigner
	authority  Authority
	notifier   ReceivableNotifier
	archive    PayloadArchive
	metrics    IssuanceMetrics
	log        zerolog.Logger
	tracer     trace.Tracer

	numericCode func() (string, error)
	background  sync.WaitGroup
}

// NewIssuanceService construye el servicio.
func NewIssuanceService(deps IssuanceDeps, log zerolog.Logger) *IssuanceService {
	return &IssuanceService{
		tx:          deps.Tx,
		documents:   deps.Documents,
		ledger:      deps.Ledger,
		ranges:      deps.Ranges,
		issuers:     deps.Issuers,
		lifecycle:   deps.Lifecycle,
		serializer:  deps.Serializer,
		signer:      deps.Signer,
		authority:   deps.Authority,
		notifier:    deps.Notifier,
		archive:     deps.Archive,
		metrics:     deps.Metrics,
		log:         log.With().Str("component", "issuance").Logger(),
		tracer:      otel.Tracer(tracerName),
		numericCode: randomNumericCode,
	}
}

// Outcome documento resultante de una operación y el veredicto que la produjo
// (nil si no hubo llamada a la autoridad).
type Outcome struct {
	Document *entity.Document
	Response *fiscal.AuthorityResponse
}

// BatchResult resultado por documento de IssueBatch.
type BatchResult struct {
	DocumentID string
	Outcome    *Outcome
	Err        error
}

// Wait espera a que terminen el archivo y los avisos en segundo plano.
func (s *IssuanceService) Wait() {
	s.background.Wait()
}

// ── Borradores ────────────────────────────────────────────────────────────────

// CreateDraft crea un borrador con la instantánea del emisor y reserva el
// próximo número de la serie dentro de la transacción.
func (s *IssuanceService) CreateDraft(ctx context.Context, issuerID string, in dto.DocumentRequest) (*entity.Document, error) {
	issuer, err := s.activeIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	code, err := s.numericCode()
	if err != nil {
		return nil, err
	}
	now := s.lifecycle.Now()
	doc := &entity.Document{
		ID:           uuid.New().String(),
		IssuerID:     issuer.ID,
		DocKind:      issuer.DefaultKind,
		Series:       issuer.DefaultSeries,
		RegionCode:   issuer.RegionCode,
		EmissionMode: issuer.EmissionMode,
		NumericCode:  code,
		Status:       entity.StatusDraft,
		Issuer:       issuer.Profile.Clone(),
		IssuedAt:     now.In(fiscal.FiscalZone),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc.Issuer.FrozenAt = nil
	if in.DocKind != "" {
		doc.DocKind = in.DocKind
	}
	if in.Series != nil {
		doc.Series = *in.Series
	}
	if err := applyInput(doc, in); err != nil {
		return nil, err
	}

	err = s.tx.RunIssuance(ctx, func(repos IssuanceRepos) error {
		number, err := repos.Series.Next(ctx, doc.IssuerID, doc.DocKind, doc.Series)
		if err != nil {
			return err
		}
		doc.Number = number
		return repos.Documents.Create(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: crear borrador: %w", err)
	}
	s.log.Info().Str("document_id", doc.ID).Str("doc_kind", doc.DocKind).Int("series", doc.Series).
		Int64("number", doc.Number).Msg("borrador creado")
	return doc, nil
}

// UpdateDraft reemplaza destinatario, líneas y condiciones de un borrador.
func (s *IssuanceService) UpdateDraft(ctx context.Context, issuerID, id string, in dto.DocumentRequest) (*entity.Document, error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if doc.IsFrozen() {
		return nil, &fiscal.InvalidTransitionError{From: doc.Status, To: entity.StatusDraft}
	}
	if err := applyInput(doc, in); err != nil {
		return nil, err
	}
	doc.UpdatedAt = s.lifecycle.Now()
	if err := s.documents.Update(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDraft elimina un borrador. Un documento enviado nunca se borra: se cancela.
func (s *IssuanceService) DeleteDraft(ctx context.Context, issuerID, id string) error {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return err
	}
	if doc.IsFrozen() {
		return &fiscal.InvalidTransitionError{From: doc.Status, To: "deleted"}
	}
	return s.documents.Delete(ctx, id)
}

// Validate aplica el motor de validación sin cambiar el estado.
func (s *IssuanceService) Validate(ctx context.Context, issuerID, id string) (*fiscal.ValidationResult, error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.Validator().Validate(doc, s.lifecycle.Now())
}

// ── Envío ─────────────────────────────────────────────────────────────────────

// Submit envía el documento a la autoridad. Un service_unavailable no es
// error: el documento queda submitted y se resuelve con Reconcile. Reenviar
// un documento submitted reutiliza el XML firmado; uno autorizado devuelve la
// autorización existente.
func (s *IssuanceService) Submit(ctx context.Context, issuerID, id string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.submit", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.StatusDraft:
	case entity.StatusSubmitted:
		resp := s.authority.Submit(ctx, doc, doc.SignedPayload)
		return s.applySubmission(ctx, doc, resp)
	case entity.StatusAuthorized:
		return &Outcome{Document: doc, Response: s.authority.Submit(ctx, doc, doc.SignedPayload)}, nil
	default:
		return nil, &fiscal.InvalidTransitionError{From: doc.Status, To: entity.StatusSubmitted}
	}

	// Un borrador de un emisor suspendido no sale hacia la autoridad.
	if _, err := s.activeIssuer(ctx, issuerID); err != nil {
		return nil, err
	}
	payload, result, err := s.prepare(doc)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.Submit(doc, result); err != nil {
		return nil, err
	}
	doc.SignedPayload = payload
	if err := s.documents.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("billing: persistir envío: %w", err)
	}
	s.observeTransition(entity.StatusDraft, entity.StatusSubmitted)
	span.SetAttributes(attribute.String("fiscal.access_key", doc.AccessKey))
	s.log.Info().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).Msg("documento enviado a la autoridad")

	resp := s.authority.Submit(ctx, doc, payload)
	out, err := s.applySubmission(ctx, doc, resp)
	if out != nil && out.Response != nil {
		span.SetAttributes(attribute.String("fiscal.verdict", string(out.Response.Verdict)))
	}
	return out, err
}

// prepare asigna la clave, valida, serializa y firma. No persiste nada: ante
// cualquier falla el documento sigue siendo un borrador.
func (s *IssuanceService) prepare(doc *entity.Document) ([]byte, *fiscal.ValidationResult, error) {
	if err := fiscal.AssignAccessKey(doc); err != nil {
		return nil, nil, err
	}
	result, err := s.lifecycle.Validator().Validate(doc, s.lifecycle.Now())
	if err != nil {
		return nil, nil, err
	}
	if !result.Valid() {
		return nil, result, &fiscal.ValidationFailure{Result: result}
	}
	payload, err := s.serializer.Serialize(doc, result)
	if err != nil {
		return nil, result, err
	}
	signed, err := s.signer.SignPayload(payload)
	if err != nil {
		return nil, result, fmt.Errorf("billing: firmar documento: %w", err)
	}
	return signed, result, nil
}

// applySubmission aplica un veredicto de envío. Los veredictos no finales
// dejan el documento submitted.
func (s *IssuanceService) applySubmission(ctx context.Context, doc *entity.Document, resp *fiscal.AuthorityResponse) (*Outcome, error) {
	out := &Outcome{Document: doc, Response: resp}
	if resp.Verdict != fiscal.VerdictAuthorized && resp.Verdict != fiscal.VerdictRejected {
		s.log.Warn().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).Str("verdict", string(resp.Verdict)).
			Str("code", resp.Code).Int("attempts", resp.Attempts).Msg("documento pendiente de consulta")
		return out, nil
	}

	from := doc.Status
	err := s.tx.RunIssuance(ctx, func(repos IssuanceRepos) error {
		ev, err := s.lifecycle.ApplyVerdict(doc, resp)
		if err != nil {
			return err
		}
		return s.record(ctx, repos, doc, ev)
	})
	if err != nil {
		var cm *fiscal.ConcurrentModificationError
		if errors.As(err, &cm) {
			// Otro proceso aplicó el veredicto primero; se devuelve su resultado.
			if cur, gerr := s.documents.GetByID(ctx, doc.ID); gerr == nil && cur.Status != entity.StatusSubmitted {
				out.Document = cur
				return out, nil
			}
		}
		return nil, fmt.Errorf("billing: aplicar veredicto: %w", err)
	}
	s.observeTransition(from, doc.Status)
	s.log.Info().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).Str("verdict", string(resp.Verdict)).
		Str("code", resp.Code).Str("protocol", resp.ProtocolNumber).Msg("veredicto aplicado")
	if doc.Status == entity.StatusAuthorized {
		s.afterAuthorization(ctx, doc)
	}
	return out, nil
}

// record anexa ev con la secuencia siguiente y actualiza el documento, ambos
// dentro de la transacción de repos.
func (s *IssuanceService) record(ctx context.Context, repos IssuanceRepos, doc *entity.Document, ev *entity.FiscalEvent) error {
	last, err := repos.Events.LastSequence(ctx, doc.ID)
	if err != nil {
		return err
	}
	ev.Sequence = last + 1
	if err := repos.Events.Append(ctx, doc.ID, ev); err != nil {
		var cm *fiscal.ConcurrentModificationError
		if errors.As(err, &cm) && s.metrics != nil {
			s.metrics.ObserveLedgerConflict()
		}
		return err
	}
	if err := repos.Documents.Update(ctx, doc); err != nil {
		var cm *fiscal.ConcurrentModificationError
		if errors.As(err, &cm) && s.metrics != nil {
			s.metrics.ObserveLedgerConflict()
		}
		return err
	}
	return nil
}

// afterAuthorization archiva el XML y avisa a cobranzas en segundo plano. Sus
// fallas se registran y no afectan al documento.
func (s *IssuanceService) afterAuthorization(ctx context.Context, doc *entity.Document) {
	if s.archive == nil && s.notifier == nil {
		return
	}
	d := doc.Clone()
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()

		if s.archive != nil {
			location, err := s.archive.Archive(bctx, d.IssuerID, d.AccessKey, d.SignedPayload)
			if err != nil {
				s.log.Error().Err(err).Str("document_id", d.ID).Msg("no se pudo archivar el XML autorizado")
			} else {
				s.log.Debug().Str("document_id", d.ID).Str("location", location).Msg("XML autorizado archivado")
			}
		}
		if s.notifier != nil {
			ev := ReceivableCreated{
				DocumentID:     d.ID,
				IssuerID:       d.IssuerID,
				AccessKey:      d.AccessKey,
				RecipientTaxID: d.Recipient.TaxID,
				Total:          d.Total,
				PaymentMeans:   d.PaymentMeans,
				DueDate:        d.DueDate,
			}
			if d.AuthorizedAt != nil {
				ev.AuthorizedAt = *d.AuthorizedAt
			}
			if err := s.notifier.NotifyReceivable(bctx, ev); err != nil {
				s.log.Error().Err(err).Str("document_id", d.ID).Msg("no se pudo avisar a cobranzas")
			}
		}
	}()
}

// Reconcile resuelve un documento submitted consultando a la autoridad. Si la
// autoridad no conoce la clave se reenvía el mismo XML firmado.
func (s *IssuanceService) Reconcile(ctx context.Context, issuerID, id string) (*Outcome, error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != entity.StatusSubmitted {
		return nil, &fiscal.InvalidTransitionError{From: doc.Status, To: entity.StatusAuthorized}
	}
	resp := s.authority.QueryStatus(ctx, doc.AccessKey)
	switch resp.Verdict {
	case fiscal.VerdictNotFound:
		s.log.Info().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).
			Msg("la autoridad no conoce la clave; reenviando")
		resp = s.authority.Submit(ctx, doc, doc.SignedPayload)
	case fiscal.VerdictCancelled:
		s.log.Warn().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).
			Msg("la autoridad informa cancelado un documento sin autorización registrada")
		return &Outcome{Document: doc, Response: resp}, nil
	}
	return s.applySubmission(ctx, doc, resp)
}

// ── Eventos posteriores ───────────────────────────────────────────────────────

// Cancel cancela un documento autorizado. Si la autoridad no confirma, el
// documento sigue autorizado y se devuelve el error tipado del veredicto.
func (s *IssuanceService) Cancel(ctx context.Context, issuerID, id, justification string) (*Outcome, error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.PrepareCancellation(doc, justification); err != nil {
		return nil, err
	}
	seq, err := s.ledger.LastSequence(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	resp := s.authority.Cancel(ctx, fiscal.CancelRequest{
		AccessKey:      doc.AccessKey,
		IssuerTaxID:    doc.Issuer.TaxID,
		ProtocolNumber: doc.ProtocolNumber,
		Justification:  justification,
		Sequence:       seq + 1,
		RequestedAt:    s.lifecycle.Now(),
	})
	if resp.Verdict != fiscal.VerdictCancelled {
		return &Outcome{Document: doc, Response: resp}, verdictError(resp)
	}

	err = s.tx.RunIssuance(ctx, func(repos IssuanceRepos) error {
		ev, err := s.lifecycle.Cancel(doc, justification, resp)
		if err != nil {
			return err
		}
		return s.record(ctx, repos, doc, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: registrar cancelación: %w", err)
	}
	s.observeTransition(entity.StatusAuthorized, entity.StatusCancelled)
	s.log.Info().Str("document_id", doc.ID).Str("access_key", doc.AccessKey).Str("protocol", resp.ProtocolNumber).
		Msg("documento cancelado")
	return &Outcome{Document: doc, Response: resp}, nil
}

// Correct registra una carta de corrección. El estado no cambia.
func (s *IssuanceService) Correct(ctx context.Context, issuerID, id, text string) (*Outcome, error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.PrepareCorrection(doc, text); err != nil {
		return nil, err
	}
	seq, err := s.ledger.LastSequence(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	resp := s.authority.Correct(ctx, fiscal.CorrectionRequest{
		AccessKey:   doc.AccessKey,
		IssuerTaxID: doc.Issuer.TaxID,
		Text:        text,
		Sequence:    seq + 1,
		RequestedAt: s.lifecycle.Now(),
	})
	if resp.Verdict != fiscal.VerdictRegistered {
		return &Outcome{Document: doc, Response: resp}, verdictError(resp)
	}

	err = s.tx.RunIssuance(ctx, func(repos IssuanceRepos) error {
		ev, err := s.lifecycle.Correct(doc, text, resp)
		if err != nil {
			return err
		}
		return s.record(ctx, repos, doc, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: registrar corrección: %w", err)
	}
	return &Outcome{Document: doc, Response: resp}, nil
}

// VoidRange inutiliza números nunca emitidos. Un documento del rango que ya
// salió de borrador aborta la operación antes de llamar a la autoridad. Los
// borradores del rango pasan a voided y el contador avanza más allá de to.
func (s *IssuanceService) VoidRange(ctx context.Context, issuerID string, in dto.VoidRangeRequest) (*entity.VoidedRange, error) {
	issuer, err := s.activeIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	now := s.lifecycle.Now()
	if res := s.lifecycle.Validator().ValidateVoidRange(in.DocKind, in.Series, in.From, in.To, in.Justification, now); !res.Valid() {
		return nil, &fiscal.ValidationFailure{Result: res}
	}
	if err := s.checkVoidable(ctx, s.documents, issuerID, in); err != nil {
		return nil, err
	}
	existing, err := s.ranges.ListBySeries(ctx, issuerID, in.DocKind, in.Series)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if in.From <= r.To && r.From <= in.To {
			return nil, fmt.Errorf("%w: el rango %d-%d se superpone con %d-%d", domain.ErrDuplicate, in.From, in.To, r.From, r.To)
		}
	}

	resp := s.authority.VoidRange(ctx, fiscal.VoidRangeRequest{
		IssuerTaxID:   issuer.Profile.TaxID,
		RegionCode:    issuer.RegionCode,
		DocKind:       in.DocKind,
		Series:        in.Series,
		From:          in.From,
		To:            in.To,
		Year:          now.In(fiscal.FiscalZone).Year(),
		Justification: in.Justification,
		RequestedAt:   now,
	})
	if resp.Verdict != fiscal.VerdictRegistered {
		return nil, verdictError(resp)
	}

	vr := &entity.VoidedRange{
		ID:             uuid.New().String(),
		IssuerID:       issuerID,
		IssuerTaxID:    issuer.Profile.TaxID,
		DocKind:        in.DocKind,
		Series:         in.Series,
		From:           in.From,
		To:             in.To,
		Justification:  in.Justification,
		ProtocolNumber: resp.ProtocolNumber,
		VoidedAt:       resp.ReceivedAt,
		CreatedAt:      now,
	}
	if vr.VoidedAt.IsZero() {
		vr.VoidedAt = now
	}
	err = s.tx.RunIssuance(ctx, func(repos IssuanceRepos) error {
		if err := s.checkVoidable(ctx, repos.Documents, issuerID, in); err != nil {
			return err
		}
		drafts, err := repos.Documents.FindInRange(ctx, issuerID, in.DocKind, in.Series, in.From, in.To)
		if err != nil {
			return err
		}
		for _, d := range drafts {
			ev, err := s.lifecycle.Void(d, in.Justification, resp)
			if err != nil {
				return err
			}
			if err := s.record(ctx, repos, d, ev); err != nil {
				return err
			}
		}
		if err := repos.Ranges.Create(ctx, vr); err != nil {
			return err
		}
		if err := repos.Series.AdvancePast(ctx, issuerID, in.DocKind, in.Series, in.To); err != nil {
			return err
		}
		ev := fiscal.RangeVoidingEvent(vr.ID, in.Justification, resp, s.lifecycle.Now)
		ev.Sequence = 1
		return repos.Events.Append(ctx, vr.ID, ev)
	})
	if err != nil {
		s.log.Error().Err(err).Str("issuer_id", issuerID).Str("protocol", resp.ProtocolNumber).
			Msg("inutilización homologada por la autoridad pero no registrada")
		return nil, fmt.Errorf("billing: registrar inutilización: %w", err)
	}
	s.log.Info().Str("issuer_id", issuerID).Str("doc_kind", in.DocKind).Int("series", in.Series).
		Int64("from", in.From).Int64("to", in.To).Str("protocol", resp.ProtocolNumber).Msg("rango inutilizado")
	return vr, nil
}

func (s *IssuanceService) checkVoidable(ctx context.Context, docs repository.DocumentRepository, issuerID string, in dto.VoidRangeRequest) error {
	inRange, err := docs.FindInRange(ctx, issuerID, in.DocKind, in.Series, in.From, in.To)
	if err != nil {
		return err
	}
	for _, d := range inRange {
		if d.Status != entity.StatusDraft {
			return &fiscal.InvalidTransitionError{From: d.Status, To: entity.StatusVoided}
		}
	}
	return nil
}

// Reissue crea un borrador nuevo a partir de un documento rechazado. El número
// rechazado queda consumido: el borrador recibe el próximo de la serie.
func (s *IssuanceService) Reissue(ctx context.Context, issuerID, id string) (*entity.Document, error) {
	src, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if src.Status != entity.StatusRejected {
		return nil, &fiscal.InvalidTransitionError{From: src.Status, To: entity.StatusDraft}
	}
	issuer, err := s.activeIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	code, err := s.numericCode()
	if err != nil {
		return nil, err
	}
	now := s.lifecycle.Now()
	doc := &entity.Document{
		ID:           uuid.New().String(),
		IssuerID:     src.IssuerID,
		DocKind:      src.DocKind,
		Series:       src.Series,
		RegionCode:   issuer.RegionCode,
		EmissionMode: issuer.EmissionMode,
		NumericCode:  code,
		Status:       entity.StatusDraft,
		Issuer:       issuer.Profile.Clone(),
		Recipient:    src.Recipient.Clone(),
		Surcharges:   src.Surcharges,
		Discounts:    src.Discounts,
		PaymentMeans: src.PaymentMeans,
		Notes:        src.Notes,
		IssuedAt:     now.In(fiscal.FiscalZone),
		ReissuedFrom: src.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc.Issuer.FrozenAt = nil
	doc.Recipient.FrozenAt = nil
	if src.DueDate != nil {
		due := *src.DueDate
		doc.DueDate = &due
	}
	for _, l := range src.Lines {
		line := l.Clone()
		line.ID = uuid.New().String()
		line.DocumentID = doc.ID
		doc.Lines = append(doc.Lines, line)
	}
	fiscal.ComputeTotals(doc)

	err = s.tx.RunIssuance(ctx, func(repos IssuanceRepos) error {
		number, err := repos.Series.Next(ctx, doc.IssuerID, doc.DocKind, doc.Series)
		if err != nil {
			return err
		}
		doc.Number = number
		return repos.Documents.Create(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("billing: reemitir: %w", err)
	}
	s.log.Info().Str("document_id", doc.ID).Str("reissued_from", src.ID).Int64("number", doc.Number).
		Msg("documento rechazado reemitido como borrador")
	return doc, nil
}

// ── Lote ──────────────────────────────────────────────────────────────────────

// IssueBatch envía varios documentos con paralelismo acotado. Cada documento
// tiene su propio resultado; una falla no detiene a los demás.
func (s *IssuanceService) IssueBatch(ctx context.Context, issuerID string, ids []string, parallelism int) []BatchResult {
	if parallelism <= 0 {
		parallelism = DefaultBatchParallelism
	}
	if parallelism > MaxBatchParallelism {
		parallelism = MaxBatchParallelism
	}
	results := make([]BatchResult, len(ids))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, id := range ids {
		g.Go(func() error {
			out, err := s.Submit(ctx, issuerID, id)
			results[i] = BatchResult{DocumentID: id, Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ── Lecturas ──────────────────────────────────────────────────────────────────

// GetDocument devuelve el documento si pertenece al emisor.
func (s *IssuanceService) GetDocument(ctx context.Context, issuerID, id string) (*entity.Document, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.IssuerID != issuerID {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

// ListDocuments documentos del emisor, más recientes primero.
func (s *IssuanceService) ListDocuments(ctx context.Context, f repository.DocumentFilter) ([]*entity.Document, error) {
	return s.documents.List(ctx, f)
}

// GetSerialized devuelve el XML firmado enviado a la autoridad. Para un
// borrador válido genera una vista previa sin firmar y sin persistir la clave.
func (s *IssuanceService) GetSerialized(ctx context.Context, issuerID, id string) ([]byte, error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if len(doc.SignedPayload) > 0 {
		return doc.SignedPayload, nil
	}
	if doc.Status != entity.StatusDraft {
		return nil, &fiscal.SerializationError{Reason: fmt.Sprintf("documento %s sin XML", doc.Status)}
	}
	preview := doc.Clone()
	if err := fiscal.AssignAccessKey(preview); err != nil {
		return nil, err
	}
	result, err := s.lifecycle.Validator().Validate(preview, s.lifecycle.Now())
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		return nil, &fiscal.ValidationFailure{Result: result}
	}
	return s.serializer.Serialize(preview, result)
}

// GetAccessKey devuelve la clave asignada o, para un borrador, la que
// recibiría al enviarse (assigned = false).
func (s *IssuanceService) GetAccessKey(ctx context.Context, issuerID, id string) (key string, assigned bool, err error) {
	doc, err := s.GetDocument(ctx, issuerID, id)
	if err != nil {
		return "", false, err
	}
	if doc.AccessKey != "" {
		return doc.AccessKey, true, nil
	}
	key, err = fiscal.GenerateAccessKey(fiscal.AccessKeyParamsFor(doc))
	return key, false, err
}

// History eventos del documento en orden de secuencia.
func (s *IssuanceService) History(ctx context.Context, issuerID, id string) ([]entity.FiscalEvent, error) {
	if _, err := s.GetDocument(ctx, issuerID, id); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, id)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (s *IssuanceService) activeIssuer(ctx context.Context, issuerID string) (*entity.Issuer, error) {
	issuer, err := s.issuers.GetByID(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	if !issuer.Active() {
		return nil, domain.ErrIssuerInactive
	}
	return issuer, nil
}

func (s *IssuanceService) observeTransition(from, to entity.DocumentStatus) {
	if s.metrics != nil && from != to {
		s.metrics.ObserveTransition(from, to)
	}
}

// verdictError error tipado de un veredicto que no confirma la operación.
func verdictError(resp *fiscal.AuthorityResponse) error {
	if err := resp.Err(); err != nil {
		return err
	}
	return fmt.Errorf("billing: veredicto %s inesperado [%s] %s", resp.Verdict, resp.Code, resp.Reason)
}
