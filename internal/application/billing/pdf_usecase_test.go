package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/application/billing"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

type recordingRenderer struct {
	doc     *entity.Document
	history []entity.FiscalEvent
}

func (r *recordingRenderer) Render(_ context.Context, doc *entity.Document, history []entity.FiscalEvent) ([]byte, error) {
	r.doc, r.history = doc, history
	return []byte("%PDF-1.3"), nil
}

func TestPDF_DocumentoAutorizado(t *testing.T) {
	f := newFixture(t)
	doc := f.authorized(t)
	renderer := &recordingRenderer{}
	uc := billing.NewPDFUseCase(f.docs, f.ledger, renderer)

	out, name, err := uc.Render(context.Background(), issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3"), out)
	assert.Equal(t, "55-"+doc.AccessKey+".pdf", name)
	require.Len(t, renderer.history, 1)
	assert.Equal(t, entity.EventAuthorization, renderer.history[0].Kind)
}

func TestPDF_BorradorNoSeImprime(t *testing.T) {
	f := newFixture(t)
	doc := f.draft(t)
	uc := billing.NewPDFUseCase(f.docs, f.ledger, &recordingRenderer{})

	_, _, err := uc.Render(context.Background(), issuerID, doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPDF_OtroEmisor(t *testing.T) {
	f := newFixture(t)
	doc := f.authorized(t)
	uc := billing.NewPDFUseCase(f.docs, f.ledger, &recordingRenderer{})

	_, _, err := uc.Render(context.Background(), "otro-emisor", doc.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestPDF_Inexistente(t *testing.T) {
	f := newFixture(t)
	uc := billing.NewPDFUseCase(f.docs, f.ledger, &recordingRenderer{})

	_, _, err := uc.Render(context.Background(), issuerID, "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
