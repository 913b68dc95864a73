package billing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/fiscal-api/internal/application/dto"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/fiscal"
)

// applyInput reemplaza el contenido editable del borrador y recalcula totales.
// Las reglas fiscales se verifican en Validate; aquí solo se rechaza lo que no
// se puede representar.
func applyInput(doc *entity.Document, in dto.DocumentRequest) error {
	if in.DueDate != "" {
		due, err := time.ParseInLocation("2006-01-02", in.DueDate, fiscal.FiscalZone)
		if err != nil {
			return fmt.Errorf("%w: due_date %q no es AAAA-MM-DD", domain.ErrInvalidInput, in.DueDate)
		}
		doc.DueDate = &due
	} else {
		doc.DueDate = nil
	}
	if in.IssuedAt != nil {
		doc.IssuedAt = in.IssuedAt.In(fiscal.FiscalZone)
	}
	doc.Recipient = partyFromInput(in.Recipient)
	doc.Surcharges = in.Surcharges
	doc.Discounts = in.Discounts
	doc.PaymentMeans = strings.TrimSpace(in.PaymentMeans)
	doc.Notes = strings.TrimSpace(in.Notes)

	doc.Lines = make([]entity.DocumentLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		line := entity.DocumentLine{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			ProductCode: strings.TrimSpace(l.ProductCode),
			Description: strings.TrimSpace(l.Description),
			NCM:         l.NCM,
			CFOP:        l.CFOP,
			Unit:        strings.TrimSpace(l.Unit),
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
		}
		for _, t := range l.Taxes {
			line.Taxes = append(line.Taxes, entity.TaxComponent{
				Category: strings.ToUpper(strings.TrimSpace(t.Category)),
				Base:     t.Base,
				Rate:     t.Rate,
			})
		}
		doc.Lines = append(doc.Lines, line)
	}
	fiscal.ComputeTotals(doc)
	return nil
}

func partyFromInput(p dto.PartyInput) entity.Party {
	return entity.Party{
		Kind:                  entity.PartyKind(p.Kind),
		TaxID:                 strings.TrimSpace(p.TaxID),
		LegalName:             strings.TrimSpace(p.LegalName),
		TradeName:             strings.TrimSpace(p.TradeName),
		StateRegistration:     p.StateRegistration,
		MunicipalRegistration: p.MunicipalRegistration,
		Email:                 p.Email,
		Address: entity.Address{
			Street:     p.Address.Street,
			Number:     p.Address.Number,
			Complement: p.Address.Complement,
			District:   p.Address.District,
			CityCode:   p.Address.CityCode,
			City:       p.Address.City,
			State:      strings.ToUpper(p.Address.State),
			PostalCode: p.Address.PostalCode,
			Country:    p.Address.Country,
		},
	}
}

var numericCodeLimit = big.NewInt(100_000_000)

// randomNumericCode código numérico de 8 dígitos de la clave de acceso.
func randomNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, numericCodeLimit)
	if err != nil {
		return "", fmt.Errorf("billing: código numérico: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}
