package sefaz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/sefaz"
)

func TestFakeAuthority_ValidaClaveYContenido(t *testing.T) {
	fake := sefaz.NewFakeAuthority()
	ctx := context.Background()

	bad := scenarioKey[:43] + "0"
	resp, err := fake.Submit(ctx, bad, []byte("<NFe/>"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictRejected, resp.Verdict)
	assert.Equal(t, "236", resp.Code)

	resp, err = fake.Submit(ctx, scenarioKey, nil)
	require.NoError(t, err)
	assert.Equal(t, "225", resp.Code)
}

func TestFakeAuthority_ProtocoloYReloj(t *testing.T) {
	fake := sefaz.NewFakeAuthority()
	at := time.Date(2025, 11, 10, 12, 5, 0, 0, fiscal.FiscalZone)
	fake.SetClock(func() time.Time { return at })

	resp, err := fake.Submit(context.Background(), scenarioKey, []byte("<NFe/>"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictAuthorized, resp.Verdict)
	assert.Equal(t, "141250000000001", resp.ProtocolNumber)
	assert.True(t, resp.ReceivedAt.Equal(at))
}

func TestFakeAuthority_RechazoProgramadoNoQuedaRegistrado(t *testing.T) {
	fake := sefaz.NewFakeAuthority()
	ctx := context.Background()
	fake.Script(sefaz.OpSubmit, sefaz.FakeStep{Response: &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRejected, Code: "539", Reason: "Rejeicao: Duplicidade de NF-e com diferenca na Chave de Acesso",
	}})

	_, err := fake.Submit(ctx, scenarioKey, []byte("<NFe/>"))
	require.NoError(t, err)

	status, err := fake.QueryStatus(ctx, scenarioKey)
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictNotFound, status.Verdict)

	again, err := fake.Submit(ctx, scenarioKey, []byte("<NFe/>"))
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictAuthorized, again.Verdict)
}

func TestFakeAuthority_DenegacionSeRefleja(t *testing.T) {
	fake := sefaz.NewFakeAuthority()
	ctx := context.Background()
	fake.Script(sefaz.OpSubmit, sefaz.FakeStep{Response: &fiscal.AuthorityResponse{
		Verdict: fiscal.VerdictRejected, Code: "110", Reason: "Uso Denegado",
	}})

	_, err := fake.Submit(ctx, scenarioKey, []byte("<NFe/>"))
	require.NoError(t, err)

	status, err := fake.QueryStatus(ctx, scenarioKey)
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictRejected, status.Verdict)
	assert.Equal(t, "110", status.Code)

	again, err := fake.Submit(ctx, scenarioKey, []byte("<NFe/>"))
	require.NoError(t, err)
	assert.Equal(t, "204", again.Code)
}

func TestFakeAuthority_CorreccionDespuesDeCancelar(t *testing.T) {
	fake := sefaz.NewFakeAuthority()
	ctx := context.Background()
	auth, err := fake.Submit(ctx, scenarioKey, []byte("<NFe/>"))
	require.NoError(t, err)

	first, err := fake.Correct(ctx, fiscal.CorrectionRequest{AccessKey: scenarioKey, Text: "Endereco corrigido", Sequence: 2})
	require.NoError(t, err)
	repeat, err := fake.Correct(ctx, fiscal.CorrectionRequest{AccessKey: scenarioKey, Text: "Endereco corrigido", Sequence: 2})
	require.NoError(t, err)
	assert.Equal(t, first.ProtocolNumber, repeat.ProtocolNumber)

	_, err = fake.Cancel(ctx, fiscal.CancelRequest{AccessKey: scenarioKey, ProtocolNumber: auth.ProtocolNumber, Justification: "Pedido cancelado"})
	require.NoError(t, err)

	late, err := fake.Correct(ctx, fiscal.CorrectionRequest{AccessKey: scenarioKey, Text: "Outra correcao", Sequence: 4})
	require.NoError(t, err)
	assert.Equal(t, fiscal.VerdictRejected, late.Verdict)
	assert.Equal(t, "218", late.Code)
}

func TestFakeAuthority_DemoraRespetaContexto(t *testing.T) {
	fake := sefaz.NewFakeAuthority()
	fake.Script(sefaz.OpQuery, sefaz.FakeStep{Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fake.QueryStatus(ctx, scenarioKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fake.Calls(sefaz.OpQuery))
}
