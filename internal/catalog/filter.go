package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// ErrInvalidFilter is returned for a malformed species filter.
var ErrInvalidFilter = errors.New("invalid species filter")

// SpeciesColumns lists the columns a species filter may name.
var SpeciesColumns = []string{"inchikey", "inchi", "name", "formula", "charge", "mass_number", "species_type", "nodes"}

var rangePattern = regexp.MustCompile(`^(\d+(?:\.\d*)?)-(\d+(?:\.\d*)?)$`)

// SpeciesFilter selects species on one column. A numeric column given a
// "min-max" value matches the closed range; anything else is a
// case-insensitive substring match.
type SpeciesFilter struct {
	Column   string
	Contains string
	Range    bool
	Min      float64
	Max      float64
}

// ParseSpeciesFilter parses "column:value" or "column:min-max".
func ParseSpeciesFilter(raw string) (SpeciesFilter, error) {
	column, value, ok := strings.Cut(raw, ":")
	if !ok {
		return SpeciesFilter{}, fmt.Errorf("%w: %q is not column:value", ErrInvalidFilter, raw)
	}
	f := SpeciesFilter{
		Column:   strings.ToLower(strings.TrimSpace(column)),
		Contains: strings.TrimSpace(value),
	}
	if _, _, known := f.field(vamdc.SpeciesDescriptor{}); !known {
		return SpeciesFilter{}, fmt.Errorf("%w: unknown column %q (one of %s)",
			ErrInvalidFilter, f.Column, strings.Join(SpeciesColumns, ", "))
	}
	if _, numeric, _ := f.field(vamdc.SpeciesDescriptor{}); numeric {
		if m := rangePattern.FindStringSubmatch(f.Contains); m != nil {
			lo, _ := strconv.ParseFloat(m[1], 64)
			hi, _ := strconv.ParseFloat(m[2], 64)
			f.Range, f.Min, f.Max = true, lo, hi
		}
	}
	return f, nil
}

// Match reports whether sp passes the filter.
func (f SpeciesFilter) Match(sp vamdc.SpeciesDescriptor) bool {
	text, numeric, known := f.field(sp)
	if !known {
		return false
	}
	if f.Range && numeric {
		v, err := strconv.ParseFloat(text, 64)
		return err == nil && v >= f.Min && v <= f.Max
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(f.Contains))
}

func (f SpeciesFilter) field(sp vamdc.SpeciesDescriptor) (string, bool, bool) {
	switch f.Column {
	case "inchikey":
		return sp.InChIKey, false, true
	case "inchi":
		return sp.InChI, false, true
	case "name":
		return sp.Name, false, true
	case "formula", "stoichiometric_formula":
		return sp.StoichiometricFormula, false, true
	case "charge":
		return strconv.Itoa(sp.Charge), true, true
	case "mass_number":
		return strconv.Itoa(sp.MassNumber), true, true
	case "species_type":
		return string(sp.Class), false, true
	case "nodes":
		return strconv.Itoa(len(sp.Nodes)), true, true
	default:
		return "", false, false
	}
}

// FilterSpecies returns the species passing every filter, in table order.
func (s *Snapshot) FilterSpecies(filters ...SpeciesFilter) []vamdc.SpeciesDescriptor {
	out := []vamdc.SpeciesDescriptor{}
	for _, sp := range s.Species() {
		keep := true
		for _, f := range filters {
			if !f.Match(sp) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, sp)
		}
	}
	return out
}
