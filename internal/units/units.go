// Package units converts recipe quantities into the unit a product is priced in.
package units

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Class groups units that convert into each other by a fixed factor.
type Class string

const (
	// ClassUnknown marks unit strings outside the table.
	ClassUnknown Class = ""
	// ClassMass covers mg, g, kg and ton.
	ClassMass Class = "mass"
	// ClassVolume covers ml, cl, dl and L.
	ClassVolume Class = "volume"
	// ClassCount covers pieces and dozens.
	ClassCount Class = "count"
)

// Standard units that prices are quoted against.
const (
	Kilogram = "kg"
	Litre    = "L"
	Piece    = "adet"
)

// ErrUnknownUnit is returned when a unit string cannot be classified.
var ErrUnknownUnit = errors.New("units: unknown unit")

type unitDef struct {
	class  Class
	toBase decimal.Decimal
}

var aliases = map[string]string{
	"mg":        "mg",
	"miligram":  "mg",
	"g":         "g",
	"gr":        "g",
	"grm":       "g",
	"gram":      "g",
	"kg":        Kilogram,
	"kilo":      Kilogram,
	"kilogram":  Kilogram,
	"ton":       "ton",
	"ml":        "ml",
	"mililitre": "ml",
	"cl":        "cl",
	"dl":        "dl",
	"l":         Litre,
	"lt":        Litre,
	"litre":     Litre,
	"liter":     Litre,
	"adet":      Piece,
	"ad":        Piece,
	"pcs":       Piece,
	"tane":      Piece,
	"duzine":    "duzine",
}

var table = map[string]unitDef{
	"mg":     {class: ClassMass, toBase: decimal.New(1, -6)},
	"g":      {class: ClassMass, toBase: decimal.New(1, -3)},
	Kilogram: {class: ClassMass, toBase: decimal.NewFromInt(1)},
	"ton":    {class: ClassMass, toBase: decimal.NewFromInt(1000)},
	"ml":     {class: ClassVolume, toBase: decimal.New(1, -3)},
	"cl":     {class: ClassVolume, toBase: decimal.New(1, -2)},
	"dl":     {class: ClassVolume, toBase: decimal.New(1, -1)},
	Litre:    {class: ClassVolume, toBase: decimal.NewFromInt(1)},
	Piece:    {class: ClassCount, toBase: decimal.NewFromInt(1)},
	"duzine": {class: ClassCount, toBase: decimal.NewFromInt(12)},
}

var asciiFold = strings.NewReplacer(
	"ı", "i", "ğ", "g", "ü", "u", "ş", "s", "ö", "o", "ç", "c", "â", "a", "î", "i", "û", "u",
)

// Fold lower-cases s with Turkish casing rules and strips Turkish diacritics.
func Fold(s string) string {
	lowered := cases.Lower(language.Turkish).String(strings.TrimSpace(s))
	return asciiFold.Replace(lowered)
}

// Normalize returns the canonical spelling of a unit, or an empty string when
// the unit is not in the table.
func Normalize(raw string) string {
	key := strings.TrimSuffix(Fold(raw), ".")
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return ""
}

// Key returns the canonical unit when known and the folded raw string otherwise.
// Override tables are keyed by it so that unusual units like "kase" still match.
func Key(raw string) string {
	if canonical := Normalize(raw); canonical != "" {
		return canonical
	}
	return strings.TrimSuffix(Fold(raw), ".")
}

// ClassOf reports the class of the unit.
func ClassOf(raw string) Class {
	def, ok := table[Normalize(raw)]
	if !ok {
		return ClassUnknown
	}
	return def.class
}

// StandardUnit returns the unit prices of the class are quoted in.
func StandardUnit(class Class) string {
	switch class {
	case ClassMass:
		return Kilogram
	case ClassVolume:
		return Litre
	case ClassCount:
		return Piece
	default:
		return ""
	}
}

// Standardize maps any known unit to the standard unit of its class.
func Standardize(raw string) (string, error) {
	class := ClassOf(raw)
	if class == ClassUnknown {
		return "", ErrUnknownUnit
	}
	return StandardUnit(class), nil
}

func lookup(unit string) (unitDef, bool) {
	def, ok := table[unit]
	return def, ok
}
