package sefaz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	pkgfiscal "github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// FakeStep respuesta programada para la próxima llamada de una operación.
// Err simula una falla de transporte; Response un veredicto fijo; Delay una
// demora que respeta el contexto.
type FakeStep struct {
	Err      error
	Response *fiscal.AuthorityResponse
	Delay    time.Duration
}

type fakeRecord struct {
	authorization *fiscal.AuthorityResponse
	rejection     *fiscal.AuthorityResponse
	cancellation  *fiscal.AuthorityResponse
}

// FakeAuthority autoridad simulada, determinista y programable. Sin pasos
// programados se comporta como la autoridad real: autoriza claves válidas,
// informa duplicidad (204) al reenviar y responde 217 para claves desconocidas.
type FakeAuthority struct {
	mu          sync.Mutex
	now         func() time.Time
	seq         int64
	steps       map[string][]FakeStep
	calls       map[string]int
	records     map[string]*fakeRecord
	corrections map[string]*fiscal.AuthorityResponse
	voids       map[string]*fiscal.AuthorityResponse
}

// NewFakeAuthority crea la autoridad simulada.
func NewFakeAuthority() *FakeAuthority {
	return &FakeAuthority{
		now:         time.Now,
		steps:       make(map[string][]FakeStep),
		calls:       make(map[string]int),
		records:     make(map[string]*fakeRecord),
		corrections: make(map[string]*fiscal.AuthorityResponse),
		voids:       make(map[string]*fiscal.AuthorityResponse),
	}
}

// SetClock fija el reloj de las respuestas.
func (f *FakeAuthority) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Script encola pasos para la operación (OpSubmit, OpQuery, ...).
func (f *FakeAuthority) Script(op string, steps ...FakeStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[op] = append(f.steps[op], steps...)
}

// Calls cantidad de llamadas recibidas por operación.
func (f *FakeAuthority) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// next registra la llamada y ejecuta el próximo paso programado, si hay.
// handled indica que el paso produjo el resultado.
func (f *FakeAuthority) next(ctx context.Context, op string) (resp *fiscal.AuthorityResponse, handled bool, err error) {
	f.mu.Lock()
	f.calls[op]++
	var step *FakeStep
	if queue := f.steps[op]; len(queue) > 0 {
		step = &queue[0]
		f.steps[op] = queue[1:]
	}
	f.mu.Unlock()

	if step == nil {
		return nil, false, nil
	}
	if step.Delay > 0 {
		if err := sleepCtx(ctx, step.Delay); err != nil {
			return nil, true, err
		}
	}
	if step.Err != nil {
		return nil, true, step.Err
	}
	if step.Response != nil {
		cp := *step.Response
		return &cp, true, nil
	}
	return nil, false, nil
}

// protocol número de protocolo de 15 dígitos: "1" + UF + año + secuencia.
func (f *FakeAuthority) protocol(key string) string {
	f.seq++
	region, year := "00", "00"
	if len(key) >= 4 {
		region, year = key[0:2], key[2:4]
	}
	return fmt.Sprintf("1%s%s%010d", region, year, f.seq)
}

func (f *FakeAuthority) response(v fiscal.Verdict, key, protocol, code, reason string) *fiscal.AuthorityResponse {
	return &fiscal.AuthorityResponse{
		Verdict:        v,
		AccessKey:      key,
		ProtocolNumber: protocol,
		Code:           code,
		Reason:         reason,
		ReceivedAt:     f.now(),
	}
}

func (f *FakeAuthority) record(key string) *fakeRecord {
	r := f.records[key]
	if r == nil {
		r = &fakeRecord{}
		f.records[key] = r
	}
	return r
}

// Submit implementa AuthorityTransport.
func (f *FakeAuthority) Submit(ctx context.Context, accessKey string, payload []byte) (*fiscal.AuthorityResponse, error) {
	if resp, ok, err := f.next(ctx, OpSubmit); ok {
		if err == nil {
			f.remember(accessKey, resp)
		}
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case !fiscal.VerifyAccessKey(accessKey):
		return f.response(fiscal.VerdictRejected, accessKey, "", pkgfiscal.StatusInvalidKey,
			"Rejeicao: Chave de Acesso com digito verificador invalido"), nil
	case len(payload) == 0:
		return f.response(fiscal.VerdictRejected, accessKey, "", pkgfiscal.StatusSchemaError,
			"Rejeicao: Falha no Schema XML"), nil
	}
	r := f.record(accessKey)
	if r.authorization != nil || r.rejection != nil {
		return f.response(fiscal.VerdictRejected, accessKey, "", pkgfiscal.StatusDuplicate,
			"Rejeicao: Duplicidade de NF-e"), nil
	}
	r.authorization = f.response(fiscal.VerdictAuthorized, accessKey, f.protocol(accessKey),
		pkgfiscal.StatusAuthorized, "Autorizado o uso da NF-e")
	cp := *r.authorization
	return &cp, nil
}

// remember guarda los veredictos programados para que QueryStatus los refleje.
func (f *FakeAuthority) remember(key string, resp *fiscal.AuthorityResponse) {
	if resp == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *resp
	switch resp.Verdict {
	case fiscal.VerdictAuthorized:
		f.record(key).authorization = &cp
	case fiscal.VerdictRejected:
		// Un rechazo no deja rastro en la base de la autoridad; la denegación sí.
		if pkgfiscal.DenialStatusCodes[resp.Code] {
			f.record(key).rejection = &cp
		}
	}
}

// QueryStatus implementa AuthorityTransport.
func (f *FakeAuthority) QueryStatus(ctx context.Context, accessKey string) (*fiscal.AuthorityResponse, error) {
	if resp, ok, err := f.next(ctx, OpQuery); ok {
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.records[accessKey]
	switch {
	case r == nil:
		return f.response(fiscal.VerdictNotFound, accessKey, "", pkgfiscal.StatusNotFound,
			"Rejeicao: NF-e nao consta na base de dados da SEFAZ"), nil
	case r.cancellation != nil:
		cp := *r.cancellation
		cp.Verdict = fiscal.VerdictCancelled
		cp.Code = pkgfiscal.StatusCancelled
		cp.Reason = "Cancelamento de NF-e homologado"
		return &cp, nil
	case r.authorization != nil:
		cp := *r.authorization
		return &cp, nil
	case r.rejection != nil:
		cp := *r.rejection
		return &cp, nil
	}
	return f.response(fiscal.VerdictNotFound, accessKey, "", pkgfiscal.StatusNotFound,
		"Rejeicao: NF-e nao consta na base de dados da SEFAZ"), nil
}

// Cancel implementa AuthorityTransport. Repetir la cancelación devuelve el mismo protocolo.
func (f *FakeAuthority) Cancel(ctx context.Context, req fiscal.CancelRequest) (*fiscal.AuthorityResponse, error) {
	if resp, ok, err := f.next(ctx, OpCancel); ok {
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.records[req.AccessKey]
	switch {
	case r == nil || r.authorization == nil:
		return f.response(fiscal.VerdictRejected, req.AccessKey, "", pkgfiscal.StatusNotFound,
			"Rejeicao: NF-e nao consta na base de dados da SEFAZ"), nil
	case r.cancellation != nil:
		cp := *r.cancellation
		return &cp, nil
	case req.ProtocolNumber != r.authorization.ProtocolNumber:
		return f.response(fiscal.VerdictRejected, req.AccessKey, "", pkgfiscal.StatusProtocolMismatch,
			"Rejeicao: Protocolo de Autorizacao de Uso difere do cadastrado"), nil
	}
	r.cancellation = f.response(fiscal.VerdictCancelled, req.AccessKey, f.protocol(req.AccessKey),
		pkgfiscal.StatusEventRegistered, "Evento registrado e vinculado a NF-e")
	cp := *r.cancellation
	return &cp, nil
}

// Correct implementa AuthorityTransport. Idempotente por (clave, secuencia).
func (f *FakeAuthority) Correct(ctx context.Context, req fiscal.CorrectionRequest) (*fiscal.AuthorityResponse, error) {
	if resp, ok, err := f.next(ctx, OpCorrect); ok {
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.records[req.AccessKey]
	switch {
	case r == nil || r.authorization == nil:
		return f.response(fiscal.VerdictRejected, req.AccessKey, "", pkgfiscal.StatusNotFound,
			"Rejeicao: NF-e nao consta na base de dados da SEFAZ"), nil
	case r.cancellation != nil:
		return f.response(fiscal.VerdictRejected, req.AccessKey, "", pkgfiscal.StatusAlreadyCancelled,
			"Rejeicao: NF-e ja esta cancelada na base de dados da SEFAZ"), nil
	}
	id := fmt.Sprintf("%s:%d", req.AccessKey, req.Sequence)
	if prev, ok := f.corrections[id]; ok {
		cp := *prev
		return &cp, nil
	}
	resp := f.response(fiscal.VerdictRegistered, req.AccessKey, f.protocol(req.AccessKey),
		pkgfiscal.StatusEventRegistered, "Evento registrado e vinculado a NF-e")
	f.corrections[id] = resp
	cp := *resp
	return &cp, nil
}

// VoidRange implementa AuthorityTransport. Idempotente por VoidRangeRequest.IdempotencyKey.
func (f *FakeAuthority) VoidRange(ctx context.Context, req fiscal.VoidRangeRequest) (*fiscal.AuthorityResponse, error) {
	if resp, ok, err := f.next(ctx, OpVoidRange); ok {
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := req.IdempotencyKey()
	if prev, ok := f.voids[id]; ok {
		cp := *prev
		return &cp, nil
	}
	pseudoKey := fmt.Sprintf("%s%02d", req.RegionCode, req.Year%100)
	resp := f.response(fiscal.VerdictRegistered, "", f.protocol(pseudoKey),
		pkgfiscal.StatusRangeVoided, "Inutilizacao de numero homologado")
	f.voids[id] = resp
	cp := *resp
	return &cp, nil
}

var _ AuthorityTransport = (*FakeAuthority)(nil)
