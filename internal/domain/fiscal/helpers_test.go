package fiscal_test

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

var (
	issuedAt = time.Date(2025, 11, 10, 12, 0, 0, 0, fiscal.FiscalZone)
	now      = issuedAt.Add(time.Hour)
)

func fixedClock(t time.Time) fiscal.Clock {
	return func() time.Time { return t }
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// validDocument borrador completo: 10 × 100 (ICMS 18 %) + 5 × 50 = 1250.00.
func validDocument() *entity.Document {
	doc := &entity.Document{
		ID:           "doc-1",
		IssuerID:     "emp-1",
		DocKind:      "55",
		Series:       1,
		Number:       1234,
		RegionCode:   "41",
		EmissionMode: "1",
		NumericCode:  "67176859",
		Status:       entity.StatusDraft,
		PaymentMeans: "01",
		IssuedAt:     issuedAt,
		Issuer: entity.Party{
			Kind:              entity.PartyOrganization,
			TaxID:             "78393592000146",
			LegalName:         "Distribuidora Araucária Ltda",
			StateRegistration: "9044016688",
			Address: entity.Address{
				Street:   "Rua XV de Novembro",
				Number:   "1000",
				CityCode: "4106902",
				City:     "Curitiba",
				State:    "PR",
			},
		},
		Recipient: entity.Party{
			Kind:      entity.PartyIndividual,
			TaxID:     "52998224725",
			LegalName: "Maria da Silva",
			Address: entity.Address{
				Street: "Avenida Paulista",
				Number: "1578",
				City:   "São Paulo",
				State:  "SP",
			},
		},
		Lines: []entity.DocumentLine{
			{
				ProductCode: "P-001",
				Description: "Caixa organizadora",
				Unit:        "UN",
				Quantity:    dec("10"),
				UnitPrice:   dec("100"),
				Taxes:       []entity.TaxComponent{{Category: "ICMS", Rate: dec("18")}},
			},
			{
				ProductCode: "P-002",
				Description: "Etiqueta adesiva",
				Unit:        "UN",
				Quantity:    dec("5"),
				UnitPrice:   dec("50"),
			},
		},
	}
	fiscal.ComputeTotals(doc)
	return doc
}

// authorizedDocument documento ya autorizado con protocolo, listo para eventos.
func authorizedDocument(authorizedAt time.Time) *entity.Document {
	doc := validDocument()
	_ = fiscal.AssignAccessKey(doc)
	submitted := issuedAt.Add(time.Minute)
	doc.Status = entity.StatusAuthorized
	doc.SubmittedAt = &submitted
	doc.ProtocolNumber = "141250000012345"
	doc.AuthorizedAt = &authorizedAt
	return doc
}
