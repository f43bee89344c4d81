package units

import (
	"strings"

	"github.com/shopspring/decimal"
)

type bridgeEntry struct {
	keyword string
	// exact requires a whole-word match so short keywords such as "su" do not
	// hit "sucuk".
	exact bool
	value decimal.Decimal
}

// Grams per piece for produce and bakery items commonly counted in recipes.
// More specific keywords come first.
var gramsPerPiece = []bridgeEntry{
	{keyword: "sarimsak dis", value: decimal.NewFromInt(5)},
	{keyword: "sarimsak", value: decimal.NewFromInt(40)},
	{keyword: "yumurta", value: decimal.NewFromInt(50)},
	{keyword: "patates", value: decimal.NewFromInt(150)},
	{keyword: "sogan", value: decimal.NewFromInt(110)},
	{keyword: "domates", value: decimal.NewFromInt(123)},
	{keyword: "havuc", value: decimal.NewFromInt(72)},
	{keyword: "sivri biber", value: decimal.NewFromInt(45)},
	{keyword: "biber", value: decimal.NewFromInt(119)},
	{keyword: "patlican", value: decimal.NewFromInt(458)},
	{keyword: "kabak", value: decimal.NewFromInt(196)},
	{keyword: "salatalik", value: decimal.NewFromInt(301)},
	{keyword: "marul", value: decimal.NewFromInt(600)},
	{keyword: "elma", value: decimal.NewFromInt(182)},
	{keyword: "muz", exact: true, value: decimal.NewFromInt(118)},
	{keyword: "portakal", value: decimal.NewFromInt(131)},
	{keyword: "limon", value: decimal.NewFromInt(84)},
	{keyword: "mandalina", value: decimal.NewFromInt(88)},
	{keyword: "armut", value: decimal.NewFromInt(178)},
	{keyword: "ekmek", value: decimal.NewFromInt(30)},
	{keyword: "pide", value: decimal.NewFromInt(200)},
	{keyword: "simit", value: decimal.NewFromInt(120)},
	{keyword: "pogaca", value: decimal.NewFromInt(80)},
}

// Densities in kg/L for liquids sold by volume but priced by weight or the
// other way round.
var densities = []bridgeEntry{
	{keyword: "zeytinyag", value: decimal.RequireFromString("0.917")},
	{keyword: "zeytin yag", value: decimal.RequireFromString("0.917")},
	{keyword: "aycicek", value: decimal.RequireFromString("0.92")},
	{keyword: "misir yag", value: decimal.RequireFromString("0.92")},
	{keyword: "tereyag", value: decimal.RequireFromString("0.91")},
	{keyword: "sut", exact: true, value: decimal.RequireFromString("1.03")},
	{keyword: "krema", value: decimal.RequireFromString("1.01")},
	{keyword: "yogurt", value: decimal.RequireFromString("1.05")},
	{keyword: "ayran", value: decimal.RequireFromString("1.02")},
	{keyword: "bal", exact: true, value: decimal.RequireFromString("1.42")},
	{keyword: "pekmez", value: decimal.RequireFromString("1.35")},
	{keyword: "sirke", value: decimal.RequireFromString("1.01")},
	{keyword: "su", exact: true, value: decimal.NewFromInt(1)},
}

// GramsPerPiece returns the typical weight of one piece of the named item.
func GramsPerPiece(name string) (decimal.Decimal, bool) {
	return matchBridge(gramsPerPiece, name)
}

// Density returns the kg/L density of the named liquid.
func Density(name string) (decimal.Decimal, bool) {
	return matchBridge(densities, name)
}

func matchBridge(entries []bridgeEntry, name string) (decimal.Decimal, bool) {
	folded := Fold(name)
	if folded == "" {
		return decimal.Zero, false
	}
	padded := " " + strings.Join(strings.Fields(folded), " ") + " "
	for _, entry := range entries {
		if entry.exact {
			if strings.Contains(padded, " "+entry.keyword+" ") {
				return entry.value, true
			}
			continue
		}
		if strings.Contains(padded, " "+entry.keyword) {
			return entry.value, true
		}
	}
	return decimal.Zero, false
}

// bridgeFactor converts one base unit of the from class into base units of
// the to class for the named product. ok is false when the product is not in
// the bridge tables.
func bridgeFactor(from, to Class, name string) (decimal.Decimal, bool) {
	thousand := decimal.NewFromInt(1000)
	switch {
	case from == ClassCount && to == ClassMass:
		grams, ok := GramsPerPiece(name)
		if !ok {
			return decimal.Zero, false
		}
		return grams.Div(thousand), true
	case from == ClassMass && to == ClassCount:
		grams, ok := GramsPerPiece(name)
		if !ok {
			return decimal.Zero, false
		}
		return thousand.Div(grams), true
	case from == ClassVolume && to == ClassMass:
		return Density(name)
	case from == ClassMass && to == ClassVolume:
		density, ok := Density(name)
		if !ok {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(1).Div(density), true
	default:
		return decimal.Zero, false
	}
}
