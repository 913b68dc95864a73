package billing_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/memory"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/metrics"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz/signer"
)

var (
	now          = time.Date(2025, 11, 10, 12, 0, 0, 0, fiscal.FiscalZone)
	errTransport = errors.New("connection reset by peer")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingNotifier struct {
	mu     sync.Mutex
	events []billing.ReceivableCreated
}

func (n *recordingNotifier) NotifyReceivable(_ context.Context, ev billing.ReceivableCreated) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type recordingArchive struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

func (a *recordingArchive) Archive(_ context.Context, issuerID, accessKey string, payload []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.payloads == nil {
		a.payloads = map[string][]byte{}
	}
	a.payloads[accessKey] = payload
	return "mem://" + issuerID + "/" + accessKey + ".xml", nil
}

type fixture struct {
	svc      *billing.IssuanceService
	fake     *sefaz.FakeAuthority
	docs     *memory.DocumentRepo
	ledger   *memory.EventLedger
	issuers  *memory.IssuerRepo
	metrics  *metrics.Metrics
	notifier *recordingNotifier
	archive  *recordingArchive
}

const issuerID = "emp-1"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		fake:     sefaz.NewFakeAuthority(),
		docs:     memory.NewDocumentRepository(store),
		ledger:   memory.NewEventLedger(store),
		issuers:  memory.NewIssuerRepository(store),
		metrics:  metrics.New(nil),
		notifier: &recordingNotifier{},
		archive:  &recordingArchive{},
	}
	f.fake.SetClock(func() time.Time { return now })
	require.NoError(t, f.issuers.Create(context.Background(), &entity.Issuer{
		ID: issuerID,
		Profile: entity.Party{
			Kind:              entity.PartyOrganization,
			TaxID:             "78393592000146",
			LegalName:         "Distribuidora Araucária Ltda",
			StateRegistration: "9044016688",
			Address: entity.Address{
				Street: "Rua XV de Novembro", Number: "1000", CityCode: "4106902", City: "Curitiba", State: "PR",
			},
		},
		RegionCode:    "41",
		EmissionMode:  "1",
		DefaultKind:   "55",
		DefaultSeries: 1,
		Status:        entity.IssuerActive,
	}))

	client := sefaz.NewAuthorityClient(sefaz.ClientConfig{
		Environment:    sefaz.EnvTest,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}, f.fake, f.ledger, nil, f.metrics, zerolog.Nop())

	f.svc = billing.NewIssuanceService(billing.IssuanceDeps{
		Tx:         memory.NewTxRunner(store),
		Documents:  f.docs,
		Ledger:     f.ledger,
		Ranges:     memory.NewVoidedRangeRepository(store),
		Issuers:    f.issuers,
		Lifecycle:  fiscal.NewLifecycle(fiscal.NewValidator(fiscal.DefaultValidationConfig()), func() time.Time { return now }),
		Serializer: sefaz.NewXMLBuilderService("2"),
		Signer:     signer.NewCertSigner(nil),
		Authority:  client,
		Notifier:   f.notifier,
		Archive:    f.archive,
		Metrics:    f.metrics,
	}, zerolog.Nop())
	return f
}

// draftRequest 10 × 100 (ICMS 18 %) + 5 × 50 = 1250.00.
func draftRequest() dto.DocumentRequest {
	return dto.DocumentRequest{
		Recipient: dto.PartyInput{
			Kind:      "individual",
			TaxID:     "52998224725",
			LegalName: "Maria da Silva",
			Address:   dto.AddressInput{Street: "Avenida Paulista", Number: "1578", City: "São Paulo", State: "SP"},
		},
		Lines: []dto.LineInput{
			{ProductCode: "P-001", Description: "Caixa organizadora", Unit: "UN", Quantity: dec("10"), UnitPrice: dec("100"),
				Taxes: []dto.TaxInput{{Category: "icms", Rate: dec("18")}}},
			{ProductCode: "P-002", Description: "Etiqueta adesiva", Unit: "UN", Quantity: dec("5"), UnitPrice: dec("50")},
		},
		PaymentMeans: "01",
	}
}

func (f *fixture) draft(t *testing.T) *entity.Document {
	t.Helper()
	doc, err := f.svc.CreateDraft(context.Background(), issuerID, draftRequest())
	require.NoError(t, err)
	return doc
}

func (f *fixture) authorized(t *testing.T) *entity.Document {
	t.Helper()
	out, err := f.svc.Submit(context.Background(), issuerID, f.draft(t).ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusAuthorized, out.Document.Status)
	return out.Document
}

func TestIssuance_FlujoCompletoAutoriza(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.draft(t)
	assert.Equal(t, entity.StatusDraft, doc.Status)
	assert.Equal(t, int64(1), doc.Number)
	assert.Equal(t, "1250.00", doc.Total.StringFixed(2))
	assert.Equal(t, "ICMS", doc.Lines[0].Taxes[0].Category)
	assert.Empty(t, doc.AccessKey)

	preview, assigned, err := f.svc.GetAccessKey(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.False(t, assigned)

	out, err := f.svc.Submit(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictAuthorized, out.Response.Verdict)
	assert.Equal(t, entity.StatusAuthorized, out.Document.Status)
	assert.Equal(t, preview, out.Document.AccessKey, "la vista previa coincide con la clave asignada")
	assert.True(t, fiscal.VerifyAccessKey(out.Document.AccessKey))
	assert.True(t, strings.HasPrefix(out.Document.AccessKey, "412511"))

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, stored.Status)
	assert.Equal(t, out.Response.ProtocolNumber, stored.ProtocolNumber)
	assert.NotNil(t, stored.Issuer.FrozenAt)
	assert.Contains(t, string(stored.SignedPayload), `Id="NFe`+stored.AccessKey+`"`)

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.EventAuthorization, history[0].Kind)
	assert.Equal(t, 1, history[0].Sequence)
	assert.Equal(t, "100", history[0].Code)

	f.svc.Wait()
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "1250.00", f.notifier.events[0].Total.StringFixed(2))
	assert.Equal(t, "52998224725", f.notifier.events[0].RecipientTaxID)
	assert.Equal(t, stored.SignedPayload, f.archive.payloads[stored.AccessKey])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DocumentTransitions.WithLabelValues("draft", "submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DocumentTransitions.WithLabelValues("submitted", "authorized")))
}

func TestIssuance_NumeracionConsecutiva(t *testing.T) {
	f := newFixture(t)
	first := f.draft(t)
	second := f.draft(t)
	assert.Equal(t, int64(1), first.Number)
	assert.Equal(t, int64(2), second.Number)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestIssuance_ValidacionFallidaNoEnvia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := draftRequest()
	in.Lines = nil
	doc, err := f.svc.CreateDraft(ctx, issuerID, in)
	require.NoError(t, err)

	res, err := f.svc.Validate(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.True(t, res.Has(fiscal.RuleNoLines))

	_, err = f.svc.Submit(ctx, issuerID, doc.ID)
	var failure *fiscal.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Zero(t, f.fake.Calls(sefaz.OpSubmit))

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, stored.Status)
	assert.Empty(t, stored.AccessKey)
}

func TestIssuance_FechaDeVencimientoInvalida(t *testing.T) {
	f := newFixture(t)
	in := draftRequest()
	in.DueDate = "10/12/2025"
	_, err := f.svc.CreateDraft(context.Background(), issuerID, in)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIssuance_RechazoYReemision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.Script(sefaz.OpSubmit, sefaz.FakeStep{Response: &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRejected, Code: "539", Reason: "Rejeicao: Duplicidade de NF-e, com diferenca na Chave de Acesso",
	}})
	doc := f.draft(t)

	out, err := f.svc.Submit(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, out.Document.Status)
	assert.Equal(t, "539", out.Document.RejectionCode)
	var rejection *fiscal.AuthorityRejection
	require.ErrorAs(t, out.Response.Err(), &rejection)

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.EventRejection, history[0].Kind)

	_, err = f.svc.Submit(ctx, issuerID, doc.ID)
	var transition *fiscal.InvalidTransitionError
	require.ErrorAs(t, err, &transition)

	reissued, err := f.svc.Reissue(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, reissued.Status)
	assert.Equal(t, int64(2), reissued.Number, "el número rechazado no se reutiliza")
	assert.Equal(t, doc.ID, reissued.ReissuedFrom)
	assert.Empty(t, reissued.AccessKey)
	assert.True(t, reissued.Total.Equal(doc.Total))

	out, err = f.svc.Submit(ctx, issuerID, reissued.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, out.Document.Status)
	assert.NotEqual(t, doc.ID, out.Document.ID)

	_, err = f.svc.Reissue(ctx, issuerID, reissued.ID)
	require.ErrorAs(t, err, &transition)
}

func TestIssuance_NoDisponibleYReconciliacion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.Script(sefaz.OpSubmit,
		sefaz.FakeStep{Err: errTransport}, sefaz.FakeStep{Err: errTransport}, sefaz.FakeStep{Err: errTransport})
	doc := f.draft(t)

	out, err := f.svc.Submit(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictUnavailable, out.Response.Verdict)
	assert.Equal(t, 3, out.Response.Attempts)
	assert.Equal(t, entity.StatusSubmitted, out.Document.Status)

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	out, err = f.svc.Reconcile(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, out.Document.Status)
	assert.Equal(t, 1, f.fake.Calls(sefaz.OpQuery))
	assert.Equal(t, 4, f.fake.Calls(sefaz.OpSubmit), "reenvío tras not_found")

	_, err = f.svc.Reconcile(ctx, issuerID, doc.ID)
	var transition *fiscal.InvalidTransitionError
	assert.ErrorAs(t, err, &transition)
}

// pending documento submitted: la autoridad no respondió a ningún intento.
func (f *fixture) pending(t *testing.T) *entity.Document {
	t.Helper()
	f.fake.Script(sefaz.OpSubmit,
		sefaz.FakeStep{Err: errTransport}, sefaz.FakeStep{Err: errTransport}, sefaz.FakeStep{Err: errTransport})
	out, err := f.svc.Submit(context.Background(), issuerID, f.draft(t).ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusSubmitted, out.Document.Status)
	return out.Document
}

func TestIssuance_ConsultaRechazadaNoCambiaEstado(t *testing.T) {
	codes := map[string]string{
		"252": "Rejeicao: Ambiente informado diverge do Ambiente de recebimento",
		"226": "Rejeicao: Codigo da UF do Emitente diverge da UF autorizadora",
		"999": "Rejeicao: Erro nao catalogado",
	}
	for code, reason := range codes {
		t.Run(code, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			doc := f.pending(t)
			f.fake.Script(sefaz.OpQuery, sefaz.FakeStep{Response: &fiscal.AuthorityResponse{
				Verdict: fiscal.VerdictRejected, Code: code, Reason: reason,
			}})

			out, err := f.svc.Reconcile(ctx, issuerID, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, entity.StatusSubmitted, out.Document.Status)
			assert.Equal(t, fiscal.VerdictUnavailable, out.Response.Verdict)
			assert.Equal(t, code, out.Response.Code)
			assert.Equal(t, 3, f.fake.Calls(sefaz.OpSubmit), "sin reenvío")

			stored, err := f.docs.GetByID(ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, entity.StatusSubmitted, stored.Status)
			history, err := f.svc.History(ctx, issuerID, doc.ID)
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestIssuance_ConsultaInformaDenegacion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.pending(t)
	f.fake.Script(sefaz.OpQuery, sefaz.FakeStep{Response: &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRejected, Code: "110", Reason: "Uso Denegado",
	}})

	out, err := f.svc.Reconcile(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, out.Document.Status)
	assert.Equal(t, "110", out.Document.RejectionCode)

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.EventRejection, history[0].Kind)
}

func TestIssuance_ReconciliacionConAutorizacionPrevia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// La autoridad autoriza pero la respuesta se pierde: el cliente ve
	// solo fallas y la consulta posterior encuentra la autorización.
	f.fake.Script(sefaz.OpSubmit, sefaz.FakeStep{Delay: 5 * time.Second})
	doc := f.draft(t)

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	out, err := f.svc.Submit(shortCtx, issuerID, doc.ID)
	cancel()
	require.NoError(t, err)
	require.Equal(t, entity.StatusSubmitted, out.Document.Status)

	auth, err := f.fake.Submit(ctx, out.Document.AccessKey, out.Document.SignedPayload)
	require.NoError(t, err)

	out, err = f.svc.Reconcile(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, out.Document.Status)
	assert.Equal(t, auth.ProtocolNumber, out.Document.ProtocolNumber)
}

func TestIssuance_ReenvioDeAutorizadoNoDuplica(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.authorized(t)
	calls := f.fake.Calls(sefaz.OpSubmit)

	out, err := f.svc.Submit(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictAuthorized, out.Response.Verdict)
	assert.Equal(t, doc.ProtocolNumber, out.Response.ProtocolNumber)
	assert.Equal(t, calls, f.fake.Calls(sefaz.OpSubmit))

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIssuance_Cancelacion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.authorized(t)

	_, err := f.svc.Cancel(ctx, issuerID, doc.ID, "corto")
	var failure *fiscal.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.True(t, failure.Result.Has(fiscal.RuleJustificationTooShort))
	assert.Zero(t, f.fake.Calls(sefaz.OpCancel))

	out, err := f.svc.Cancel(ctx, issuerID, doc.ID, "Pedido cancelado pelo cliente antes do envio")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, out.Document.Status)
	assert.Equal(t, out.Response.ProtocolNumber, out.Document.CancelProtocol)

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entity.EventCancellation, history[1].Kind)
	assert.Equal(t, 2, history[1].Sequence)
	assert.Equal(t, doc.ProtocolNumber, history[1].ReferencedProtocol)
	assert.Equal(t, "Pedido cancelado pelo cliente antes do envio", history[1].Justification)

	var transition *fiscal.InvalidTransitionError
	_, err = f.svc.Cancel(ctx, issuerID, doc.ID, "Pedido cancelado pelo cliente antes do envio")
	require.ErrorAs(t, err, &transition)
	_, err = f.svc.Correct(ctx, issuerID, doc.ID, "Endereco de entrega corrigido para Rua B")
	require.ErrorAs(t, err, &transition)
}

func TestIssuance_CancelacionSinRespuestaNoCambiaEstado(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.authorized(t)
	f.fake.Script(sefaz.OpCancel,
		sefaz.FakeStep{Err: errTransport}, sefaz.FakeStep{Err: errTransport}, sefaz.FakeStep{Err: errTransport})

	out, err := f.svc.Cancel(ctx, issuerID, doc.ID, "Pedido cancelado pelo cliente antes do envio")
	var unavailable *fiscal.AuthorityUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, entity.StatusAuthorized, out.Document.Status)

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, stored.Status)
	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIssuance_CartaDeCorreccion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.authorized(t)

	out, err := f.svc.Correct(ctx, issuerID, doc.ID, "Endereco de entrega corrigido para Rua B, 20")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, out.Document.Status)
	assert.Equal(t, fiscal.VerdictRegistered, out.Response.Verdict)

	history, err := f.svc.History(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entity.EventCorrection, history[1].Kind)
	assert.Equal(t, 2, history[1].Sequence)
}

func TestIssuance_BorradoresEditablesHastaElEnvio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.draft(t)

	in := draftRequest()
	in.Lines = in.Lines[:1]
	in.DueDate = "2025-12-10"
	updated, err := f.svc.UpdateDraft(ctx, issuerID, doc.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", updated.Total.StringFixed(2))
	require.NotNil(t, updated.DueDate)
	assert.Equal(t, 2, updated.Version)

	_, err = f.svc.Submit(ctx, issuerID, doc.ID)
	require.NoError(t, err)

	var transition *fiscal.InvalidTransitionError
	_, err = f.svc.UpdateDraft(ctx, issuerID, doc.ID, in)
	require.ErrorAs(t, err, &transition)
	err = f.svc.DeleteDraft(ctx, issuerID, doc.ID)
	require.ErrorAs(t, err, &transition)

	other := f.draft(t)
	require.NoError(t, f.svc.DeleteDraft(ctx, issuerID, other.ID))
	_, err = f.svc.GetDocument(ctx, issuerID, other.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIssuance_InutilizacionDeRango(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.authorized(t)       // número 1
	pending := f.draft(t) // número 2

	req := dto.VoidRangeRequest{DocKind: "55", Series: 1, From: 2, To: 5, Justification: "Falha no sistema de numeracao"}
	vr, err := f.svc.VoidRange(ctx, issuerID, req)
	require.NoError(t, err)
	assert.NotEmpty(t, vr.ProtocolNumber)

	voided, err := f.svc.GetDocument(ctx, issuerID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusVoided, voided.Status)

	next := f.draft(t)
	assert.Equal(t, int64(6), next.Number, "el contador avanza más allá del rango")

	rangeEvents, err := f.ledger.History(ctx, vr.ID)
	require.NoError(t, err)
	require.Len(t, rangeEvents, 1)
	assert.Equal(t, entity.EventRangeVoiding, rangeEvents[0].Kind)

	calls := f.fake.Calls(sefaz.OpVoidRange)
	var transition *fiscal.InvalidTransitionError
	_, err = f.svc.VoidRange(ctx, issuerID, dto.VoidRangeRequest{DocKind: "55", Series: 1, From: 1, To: 1,
		Justification: "Falha no sistema de numeracao"})
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, entity.StatusAuthorized, transition.From)
	assert.Equal(t, calls, f.fake.Calls(sefaz.OpVoidRange), "no se llama a la autoridad")

	_, err = f.svc.VoidRange(ctx, issuerID, dto.VoidRangeRequest{DocKind: "55", Series: 1, From: 4, To: 8,
		Justification: "Falha no sistema de numeracao"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = f.svc.VoidRange(ctx, issuerID, dto.VoidRangeRequest{DocKind: "55", Series: 1, From: 9, To: 7,
		Justification: "Falha no sistema de numeracao"})
	var failure *fiscal.ValidationFailure
	assert.ErrorAs(t, err, &failure)
}

func TestIssuance_EnvioEnLote(t *testing.T) {
	f := newFixture(t)
	ids := []string{f.draft(t).ID, f.draft(t).ID, "no-existe", f.draft(t).ID}

	results := f.svc.IssueBatch(context.Background(), issuerID, ids, 2)
	require.Len(t, results, len(ids))
	for i, r := range results {
		assert.Equal(t, ids[i], r.DocumentID)
		if r.DocumentID == "no-existe" {
			assert.ErrorIs(t, r.Err, domain.ErrNotFound)
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, entity.StatusAuthorized, r.Outcome.Document.Status)
	}
}

func TestIssuance_OtroEmisorNoAccede(t *testing.T) {
	f := newFixture(t)
	doc := f.draft(t)
	_, err := f.svc.GetDocument(context.Background(), "emp-2", doc.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Submit(context.Background(), "emp-2", doc.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestIssuance_EmisorSuspendido(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issuer, err := f.issuers.GetByID(ctx, issuerID)
	require.NoError(t, err)
	issuer.Status = entity.IssuerSuspended
	require.NoError(t, f.issuers.Update(ctx, issuer))

	_, err = f.svc.CreateDraft(ctx, issuerID, draftRequest())
	assert.ErrorIs(t, err, domain.ErrIssuerInactive)
}

func TestIssuance_EmisorSuspendidoNoEnviaBorradores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.draft(t)
	issuer, err := f.issuers.GetByID(ctx, issuerID)
	require.NoError(t, err)
	issuer.Status = entity.IssuerSuspended
	require.NoError(t, f.issuers.Update(ctx, issuer))

	_, err = f.svc.Submit(ctx, issuerID, doc.ID)
	assert.ErrorIs(t, err, domain.ErrIssuerInactive)
	assert.Zero(t, f.fake.Calls(sefaz.OpSubmit))

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDraft, stored.Status)
	assert.Empty(t, stored.AccessKey)
}

func TestIssuance_VistaPreviaDelXML(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.draft(t)

	xmlBytes, err := f.svc.GetSerialized(ctx, issuerID, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, string(xmlBytes), "<NFe")
	assert.Contains(t, string(xmlBytes), "<vNF>1250.00</vNF>")

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AccessKey, "la vista previa no persiste la clave")
}
