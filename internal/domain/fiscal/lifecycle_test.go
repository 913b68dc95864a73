package fiscal_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

func newLifecycle() *fiscal.Lifecycle {
	return fiscal.NewLifecycle(newValidator(), fixedClock(now))
}

func TestCheckTransition_TablaCompleta(t *testing.T) {
	all := []entity.DocumentStatus{
		entity.StatusDraft, entity.StatusSubmitted, entity.StatusAuthorized,
		entity.StatusRejected, entity.StatusCancelled, entity.StatusVoided,
	}
	legal := map[[2]entity.DocumentStatus]bool{
		{entity.StatusDraft, entity.StatusSubmitted}:      true,
		{entity.StatusDraft, entity.StatusVoided}:         true,
		{entity.StatusSubmitted, entity.StatusAuthorized}: true,
		{entity.StatusSubmitted, entity.StatusRejected}:   true,
		{entity.StatusAuthorized, entity.StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			err := fiscal.CheckTransition(from, to)
			if legal[[2]entity.DocumentStatus{from, to}] {
				assert.NoError(t, err, "%s → %s debería ser legal", from, to)
				continue
			}
			var inv *fiscal.InvalidTransitionError
			require.ErrorAs(t, err, &inv, "%s → %s debería ser ilegal", from, to)
			assert.Equal(t, from, inv.From)
			assert.Equal(t, to, inv.To)
			assert.True(t, errors.Is(err, domain.ErrConflict))
		}
	}
}

func TestSubmit_AsignaClaveYCongelaPartes(t *testing.T) {
	lc := newLifecycle()
	doc := validDocument()
	res, err := lc.Validator().Validate(doc, now)
	require.NoError(t, err)

	require.NoError(t, lc.Submit(doc, res))
	assert.Equal(t, entity.StatusSubmitted, doc.Status)
	assert.Len(t, doc.AccessKey, fiscal.AccessKeyLength)
	assert.True(t, fiscal.VerifyAccessKey(doc.AccessKey))
	require.NotNil(t, doc.SubmittedAt)
	assert.Equal(t, now, *doc.SubmittedAt)
	assert.NotNil(t, doc.Issuer.FrozenAt)
	assert.NotNil(t, doc.Recipient.FrozenAt)
	assert.True(t, doc.IsFrozen())
}

func TestSubmit_SinValidacionAceptadaNoMuta(t *testing.T) {
	lc := newLifecycle()
	doc := validDocument()
	doc.Lines[0].Total = doc.Lines[0].Total.Add(dec("5"))
	res, err := lc.Validator().Validate(doc, now)
	require.NoError(t, err)
	require.False(t, res.Valid())

	before := doc.Clone()
	err = lc.Submit(doc, res)
	var vf *fiscal.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, before, doc, "el documento no debe cambiar ante error")

	err = lc.Submit(doc, nil)
	require.ErrorAs(t, err, &vf)
}

func TestSubmit_ValidacionObsoleta(t *testing.T) {
	lc := newLifecycle()
	doc := validDocument()
	res, err := lc.Validator().Validate(doc, now)
	require.NoError(t, err)

	doc.Notes = "cambio posterior a la validación"
	err = lc.Submit(doc, res)
	var vf *fiscal.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.True(t, vf.Result.Has(fiscal.RuleStaleValidation))
	assert.Equal(t, entity.StatusDraft, doc.Status)
	assert.Empty(t, doc.AccessKey)
}

func submitted(t *testing.T, lc *fiscal.Lifecycle) *entity.Document {
	t.Helper()
	doc := validDocument()
	res, err := lc.Validator().Validate(doc, now)
	require.NoError(t, err)
	require.NoError(t, lc.Submit(doc, res))
	return doc
}

func TestAuthorize_RegistraProtocolo(t *testing.T) {
	lc := newLifecycle()
	doc := submitted(t, lc)
	at := now.Add(time.Second)

	ev, err := lc.Authorize(doc, &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictAuthorized, ProtocolNumber: "141250000000001",
		Code: "100", Reason: "Autorizado o uso da NF-e", ReceivedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, doc.Status)
	assert.Equal(t, "141250000000001", doc.ProtocolNumber)
	assert.Equal(t, at, *doc.AuthorizedAt)
	assert.Equal(t, entity.EventAuthorization, ev.Kind)
	assert.Equal(t, doc.ID, ev.DocumentID)
	assert.Zero(t, ev.Sequence, "la secuencia la asigna el libro de eventos")
}

func TestReject_ConservaCodigoYMotivo(t *testing.T) {
	lc := newLifecycle()
	doc := submitted(t, lc)

	ev, err := lc.ApplyVerdict(doc, &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRejected, Code: "539", Reason: "Duplicidade de NF-e com diferença na Chave de Acesso",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Equal(t, "539", doc.RejectionCode)
	assert.Equal(t, "Duplicidade de NF-e com diferença na Chave de Acesso", ev.Reason)

	// rechazado es terminal
	_, err = lc.Authorize(doc, &fiscal.AuthorityResponse{Verdict: fiscal.VerdictAuthorized, ProtocolNumber: "1"})
	var inv *fiscal.InvalidTransitionError
	assert.ErrorAs(t, err, &inv)
}

func TestAuthorize_VeredictoNoDisponibleNoMuta(t *testing.T) {
	lc := newLifecycle()
	doc := submitted(t, lc)
	before := doc.Clone()

	_, err := lc.ApplyVerdict(doc, fiscal.Unavailable(doc.AccessKey, 3, errors.New("timeout"), now))
	assert.Error(t, err)
	assert.Equal(t, before, doc)
}

// TestCancel_EscenarioJustificacion: una justificación de 10 caracteres se
// rechaza sin mutar; una de 20 produce el evento de cancelación.
func TestCancel_EscenarioJustificacion(t *testing.T) {
	lc := newLifecycle()
	doc := authorizedDocument(issuedAt.Add(2 * time.Minute))
	before := doc.Clone()
	resp := &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictCancelled, ProtocolNumber: "141250000000099", Code: "135", ReceivedAt: now,
	}

	_, err := lc.Cancel(doc, "muy corta.", resp)
	var vf *fiscal.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.True(t, vf.Result.Has(fiscal.RuleJustificationTooShort))
	assert.Equal(t, before, doc)

	ev, err := lc.Cancel(doc, "error en destinatario", resp)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, doc.Status)
	assert.Equal(t, "141250000000099", doc.CancelProtocol)
	assert.Equal(t, entity.EventCancellation, ev.Kind)
	assert.Equal(t, "141250000012345", ev.ReferencedProtocol, "el evento referencia la autorización previa")
	assert.Equal(t, "error en destinatario", ev.Justification)

	_, err = lc.Cancel(doc, "error en destinatario", resp)
	var inv *fiscal.InvalidTransitionError
	assert.ErrorAs(t, err, &inv, "cancelado es terminal")
}

// TestCancel_ConfirmadaFueraDePlazoSeRegistra: el plazo se controla antes de
// llamar a la autoridad; una cancelación ya confirmada se aplica aunque los
// reintentos hayan cruzado el límite.
func TestCancel_ConfirmadaFueraDePlazoSeRegistra(t *testing.T) {
	late := issuedAt.Add(30 * time.Hour)
	lc := fiscal.NewLifecycle(newValidator(), fixedClock(late))
	doc := authorizedDocument(issuedAt.Add(2 * time.Minute))

	err := lc.PrepareCancellation(doc, "error en destinatario")
	var vf *fiscal.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.True(t, vf.Result.Has(fiscal.RuleWindowExpired))

	ev, err := lc.Cancel(doc, "error en destinatario", &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictCancelled, ProtocolNumber: "141250000000099", Code: "135", ReceivedAt: late,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, doc.Status)
	assert.Equal(t, entity.EventCancellation, ev.Kind)
	assert.True(t, ev.OccurredAt.Equal(late))
}

func TestCorrect_NoCambiaEstado(t *testing.T) {
	lc := newLifecycle()
	doc := authorizedDocument(issuedAt.Add(2 * time.Minute))

	ev, err := lc.Correct(doc, "corrige la descripción del ítem 2", &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRegistered, ProtocolNumber: "141250000000100", Code: "135",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, doc.Status)
	assert.Equal(t, entity.EventCorrection, ev.Kind)

	_, err = lc.Correct(validDocument(), "corrige la descripción del ítem 2", &fiscal.AuthorityResponse{Verdict: fiscal.VerdictRegistered})
	var inv *fiscal.InvalidTransitionError
	assert.ErrorAs(t, err, &inv)
}

func TestVoid_SoloDesdeBorrador(t *testing.T) {
	lc := newLifecycle()
	resp := &fiscal.AuthorityResponse{Verdict: fiscal.VerdictRegistered, ProtocolNumber: "141250000000200", Code: "102"}

	doc := validDocument()
	ev, err := lc.Void(doc, "falla en el sistema de numeración", resp)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusVoided, doc.Status)
	assert.Equal(t, entity.EventRangeVoiding, ev.Kind)

	sub := submitted(t, lc)
	_, err = lc.Void(sub, "falla en el sistema de numeración", resp)
	var inv *fiscal.InvalidTransitionError
	assert.ErrorAs(t, err, &inv)
	assert.Equal(t, entity.StatusSubmitted, sub.Status)
}

func TestRangeVoidingEvent_UsaIdentificadorDelRango(t *testing.T) {
	ev := fiscal.RangeVoidingEvent("rng-1", "  falla en el sistema  ", &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRegistered, ProtocolNumber: "9", ReceivedAt: now,
	}, fixedClock(now))
	assert.Equal(t, "rng-1", ev.DocumentID)
	assert.Equal(t, "falla en el sistema", ev.Justification)
	assert.Equal(t, now, ev.OccurredAt)
}
