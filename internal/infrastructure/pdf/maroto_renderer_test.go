package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

func TestMoney(t *testing.T) {
	assert.Equal(t, "0,00", money(decimal.Zero))
	assert.Equal(t, "999,50", money(decimal.RequireFromString("999.5")))
	assert.Equal(t, "1.234.567,80", money(decimal.RequireFromString("1234567.8")))
	assert.Equal(t, "-1.000,00", money(decimal.RequireFromString("-1000")))
}

func TestFormatTaxID(t *testing.T) {
	assert.Equal(t, "78.393.592/0001-46", formatTaxID("78393592000146"))
	assert.Equal(t, "529.982.247-25", formatTaxID("52998224725"))
	assert.Equal(t, "123", formatTaxID("123"))
}

func TestEventRows_SoloCancelacionYCorreccion(t *testing.T) {
	history := []entity.FiscalEvent{
		{Sequence: 1, Kind: entity.EventAuthorization},
		{Sequence: 2, Kind: entity.EventCorrection, Justification: "Corrige la dirección de entrega"},
	}
	assert.Len(t, eventRows(history), 2, "cabecera + carta de corrección")
	assert.Nil(t, eventRows(history[:1]))
}

func TestRender_GeneraPDF(t *testing.T) {
	authorized := time.Date(2025, 11, 10, 12, 5, 0, 0, fiscal.FiscalZone)
	doc := &entity.Document{
		ID:        "doc-1",
		DocKind:   "55",
		Series:    1,
		Number:    34818,
		AccessKey: "41251178393592000146558900034818141671768595",
		Status:    entity.StatusAuthorized,
		Issuer: entity.Party{
			Kind: entity.PartyOrganization, TaxID: "78393592000146", LegalName: "Comercial Araucária Ltda",
			Address: entity.Address{Street: "Rua XV", Number: "100", City: "Curitiba", State: "PR"},
		},
		Recipient: entity.Party{Kind: entity.PartyIndividual, TaxID: "52998224725", LegalName: "João da Silva"},
		Lines: []entity.DocumentLine{{
			ItemNumber: 1, ProductCode: "P-1", Description: "Caneta azul", Unit: "UN",
			Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(5), Total: decimal.NewFromInt(10),
		}},
		LinesTotal:     decimal.NewFromInt(10),
		Total:          decimal.NewFromInt(10),
		IssuedAt:       authorized.Add(-5 * time.Minute),
		ProtocolNumber: "141250000000001",
		AuthorizedAt:   &authorized,
	}

	out, err := NewMarotoRenderer().Render(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRender_DocumentoNil(t *testing.T) {
	_, err := NewMarotoRenderer().Render(context.Background(), nil, nil)
	assert.Error(t, err)
}
