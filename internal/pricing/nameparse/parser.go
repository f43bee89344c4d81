// Package nameparse extracts brand and package size from free-text product
// names as they appear on market listings and invoices.
package nameparse

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

// Result holds the parsed attributes. PackageSize is expressed in Unit, which
// is kg, L or adet.
type Result struct {
	Brand       string
	PackageSize *decimal.Decimal
	Unit        string
}

var (
	multiPackPattern = regexp.MustCompile(`(\d+)\s*[x×]\s*(\d+(?:[.,]\d+)?)\s*(kg|kilo|gr|g|lt|l|litre|ml)\b`)
	sizePattern      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(kg|kilo|gr|g|lt|l|litre|ml)\b`)
	countPattern     = regexp.MustCompile(`(\d+)\s*(?:'li|'lu|'lı|'lü|li|lu|adet)\b`)
)

// Parser recognises package sizes and a configurable list of brands.
type Parser struct {
	brands []string
}

// DefaultBrands are brands frequently seen in catering supplier listings.
var DefaultBrands = []string{
	"Pınar", "Sütaş", "Torku", "Yayla", "Reis", "Duru", "Komili", "Kristal",
	"Yudum", "Tariş", "Banvit", "Keskinoğlu", "Tat", "Tamek", "Tukaş",
	"Filiz", "Ülker", "Knorr", "Bizim", "Orkide", "Marmarabirlik",
}

// New returns a Parser using DefaultBrands.
func New() *Parser {
	return NewWithBrands(DefaultBrands)
}

// NewWithBrands returns a Parser recognising the supplied brands.
func NewWithBrands(brands []string) *Parser {
	return &Parser{brands: append([]string(nil), brands...)}
}

// Parse extracts what it can from name. Missing attributes stay empty.
func (p *Parser) Parse(name string) Result {
	folded := units.Fold(name)
	var res Result
	if p != nil {
		for _, brand := range p.brands {
			if containsWord(folded, units.Fold(brand)) {
				res.Brand = brand
				break
			}
		}
	}

	if m := multiPackPattern.FindStringSubmatch(folded); m != nil {
		count, errCount := decimal.NewFromString(m[1])
		size, errSize := parseNumber(m[2])
		if errCount == nil && errSize == nil {
			total, unit := toStandard(count.Mul(size), m[3])
			res.PackageSize, res.Unit = &total, unit
			return res
		}
	}
	if m := sizePattern.FindStringSubmatch(folded); m != nil {
		if size, err := parseNumber(m[1]); err == nil {
			total, unit := toStandard(size, m[2])
			res.PackageSize, res.Unit = &total, unit
			return res
		}
	}
	if m := countPattern.FindStringSubmatch(folded); m != nil {
		if count, err := decimal.NewFromString(m[1]); err == nil && count.IsPositive() {
			res.PackageSize, res.Unit = &count, units.Piece
		}
	}
	return res
}

func parseNumber(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
}

func toStandard(size decimal.Decimal, unit string) (decimal.Decimal, string) {
	switch unit {
	case "gr", "g":
		return size.Div(decimal.NewFromInt(1000)), units.Kilogram
	case "ml":
		return size.Div(decimal.NewFromInt(1000)), units.Litre
	case "lt", "l", "litre":
		return size, units.Litre
	default:
		return size, units.Kilogram
	}
}

func containsWord(haystack, word string) bool {
	if word == "" {
		return false
	}
	padded := " " + strings.Join(strings.Fields(haystack), " ") + " "
	return strings.Contains(padded, " "+word+" ")
}
