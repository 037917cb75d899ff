package catalog

import (
	"strings"

	"retailpos/internal/money"

	"github.com/shopspring/decimal"
)

// ScaleDisabled turns weighing-scale barcode parsing off.
const ScaleDisabled = -1

// ScaleMode tells what the value digits of a scale barcode encode.
type ScaleMode int

const (
	ScalePrice ScaleMode = iota
	ScaleWeight
)

// ScaleBarcode is the decoded content of a weighing-scale label.
type ScaleBarcode struct {
	Code   string
	Mode   ScaleMode
	Weight money.Quantity // set in ScaleWeight mode
	Price  money.Currency // set in ScalePrice mode
}

// Scale labels are EAN-13 codes starting with "2": the item code starts at
// index 1 and the value occupies the five digits before the check digit.
// Formats 0..2 carry a price with a 4, 5 or 6 digit code; 3..5 a weight.
const (
	scaleLength     = 13
	scalePrefix     = '2'
	scaleValueStart = 7
	scaleValueEnd   = 12
)

// ParseScaleBarcode decodes text with the configured format. The check digit
// is not verified; labels printed by scales often carry a dummy one.
func ParseScaleBarcode(text string, format int) (*ScaleBarcode, bool) {
	if format < 0 || format > 5 {
		return nil, false
	}
	text = strings.TrimSpace(text)
	if len(text) != scaleLength || text[0] != scalePrefix || !allDigits(text) {
		return nil, false
	}
	codeLen := 4 + format%3
	mode := ScalePrice
	if format >= 3 {
		mode = ScaleWeight
	}

	raw, err := decimal.NewFromString(text[scaleValueStart:scaleValueEnd])
	if err != nil {
		return nil, false
	}
	sb := &ScaleBarcode{Code: text[1 : 1+codeLen], Mode: mode}
	switch mode {
	case ScaleWeight:
		if sb.Weight, err = money.NewQuantity(raw.Shift(-money.QuantityPlaces)); err != nil {
			return nil, false
		}
	case ScalePrice:
		if sb.Price, err = money.NewCurrency(raw.Shift(-money.CurrencyPlaces)); err != nil {
			return nil, false
		}
	}
	return sb, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
