package fiscal

import (
	"fmt"
	"unicode"
)

// Longitudes de identificación tributaria: 11 dígitos para persona física,
// 14 para persona jurídica.
const (
	IndividualTaxIDLength   = 11
	OrganizationTaxIDLength = 14
)

// pesos módulo 11 de la persona jurídica (de izquierda a derecha).
var (
	orgWeightsFirst  = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	orgWeightsSecond = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateIndividualTaxID valida longitud y los dos dígitos de verificación
// de una identificación de persona física (con o sin puntos/guiones).
func ValidateIndividualTaxID(taxID string) error {
	digits := ExtractDigits(taxID)
	if len(digits) != IndividualTaxIDLength {
		return fmt.Errorf("fiscal: identificación de persona física debe tener %d dígitos, se encontraron %d", IndividualTaxIDLength, len(digits))
	}
	if allSame(digits) {
		return fmt.Errorf("fiscal: identificación de persona física con dígitos repetidos")
	}
	first := individualDigit(digits[:9])
	second := individualDigit(append(append([]byte{}, digits[:9]...), first))
	if digits[9] != first || digits[10] != second {
		return fmt.Errorf("fiscal: dígitos de verificación inválidos: esperado %c%c, recibido %c%c", first, second, digits[9], digits[10])
	}
	return nil
}

// ValidateOrganizationTaxID valida longitud y los dos dígitos de verificación
// de una identificación de persona jurídica.
func ValidateOrganizationTaxID(taxID string) error {
	digits := ExtractDigits(taxID)
	if len(digits) != OrganizationTaxIDLength {
		return fmt.Errorf("fiscal: identificación de persona jurídica debe tener %d dígitos, se encontraron %d", OrganizationTaxIDLength, len(digits))
	}
	if allSame(digits) {
		return fmt.Errorf("fiscal: identificación de persona jurídica con dígitos repetidos")
	}
	first := weightedDigit(digits[:12], orgWeightsFirst[:])
	second := weightedDigit(append(append([]byte{}, digits[:12]...), first), orgWeightsSecond[:])
	if digits[12] != first || digits[13] != second {
		return fmt.Errorf("fiscal: dígitos de verificación inválidos: esperado %c%c, recibido %c%c", first, second, digits[12], digits[13])
	}
	return nil
}

// individualDigit: pesos decrecientes desde len+1 hasta 2; (suma*10) mod 11, 10 → 0.
func individualDigit(base []byte) byte {
	var sum int
	weight := len(base) + 1
	for _, d := range base {
		sum += int(d-'0') * weight
		weight--
	}
	r := (sum * 10) % 11
	if r == 10 {
		r = 0
	}
	return byte('0' + r)
}

func weightedDigit(base []byte, weights []int) byte {
	var sum int
	for i, d := range base {
		sum += int(d-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + (11 - r))
}

func allSame(digits []byte) bool {
	for _, d := range digits[1:] {
		if d != digits[0] {
			return false
		}
	}
	return true
}

// ExtractDigits devuelve solo los dígitos ASCII de s.
func ExtractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			out = append(out, byte(r))
		}
	}
	return out
}
