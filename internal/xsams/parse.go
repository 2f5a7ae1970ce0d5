// Package xsams extracts radiative transitions from XSAMS documents returned
// by data nodes.
package xsams

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// ErrMalformed reports a document that is not well-formed XML.
var ErrMalformed = errors.New("malformed xsams document")

// Value keys stored in vamdc.Row.Values.
const (
	ValueFrequency          = "frequency"
	ValueWavenumber         = "wavenumber"
	ValueEinsteinA          = "einstein_a"
	ValueLogGF              = "log_gf"
	ValueOscillatorStrength = "oscillator_strength"
)

// speedOfLightAngstrom is c in Å/s.
const speedOfLightAngstrom = 2.99792458e18

// XPath expressions match on local-name() so any namespace prefix is accepted.
const (
	transitionsXPath   = "//*[local-name()='RadiativeTransition']"
	speciesRefXPath    = "./*[local-name()='SpeciesRef']"
	upperStateXPath    = "./*[local-name()='UpperStateRef']"
	lowerStateXPath    = "./*[local-name()='LowerStateRef']"
	wavelengthXPath    = ".//*[local-name()='Wavelength']//*[local-name()='Value']"
	frequencyXPath     = ".//*[local-name()='Frequency']//*[local-name()='Value']"
	wavenumberXPath    = ".//*[local-name()='Wavenumber']//*[local-name()='Value']"
	einsteinAXPath     = ".//*[local-name()='TransitionProbabilityA']//*[local-name()='Value']"
	logGFXPath         = ".//*[local-name()='Log10WeightedOscillatorStrength']//*[local-name()='Value']"
	oscillatorStrXPath = ".//*[local-name()='OscillatorStrength']//*[local-name()='Value']"
)

var optionalValues = []struct {
	key   string
	xpath string
}{
	{ValueFrequency, frequencyXPath},
	{ValueWavenumber, wavenumberXPath},
	{ValueEinsteinA, einsteinAXPath},
	{ValueLogGF, logGFXPath},
	{ValueOscillatorStrength, oscillatorStrXPath},
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(body []byte) ([]vamdc.Row, error) {
	return Parse(bytes.NewReader(body))
}

// Parse returns one row per radiative transition in document order. Only the
// fields carried by the document are populated; callers tag node and species.
// Transitions with no usable wavelength, frequency or wavenumber are skipped.
func Parse(r io.Reader) ([]vamdc.Row, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	nodes := xmlquery.Find(doc, transitionsXPath)
	rows := make([]vamdc.Row, 0, len(nodes))
	for _, n := range nodes {
		row, ok := parseTransition(n)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTransition(n *xmlquery.Node) (vamdc.Row, bool) {
	row := vamdc.Row{
		TransitionID:  n.SelectAttr("id"),
		SpeciesRef:    childText(n, speciesRefXPath),
		UpperStateRef: childText(n, upperStateXPath),
		LowerStateRef: childText(n, lowerStateXPath),
	}
	for _, v := range optionalValues {
		if val, _, ok := numericValue(n, v.xpath); ok {
			if row.Values == nil {
				row.Values = make(map[string]float64, len(optionalValues))
			}
			row.Values[v.key] = val
		}
	}

	if val, units, ok := numericValue(n, wavelengthXPath); ok {
		row.Wavelength = val
		row.WavelengthUnits = units
		return row, true
	}
	if freq, units, ok := numericValue(n, frequencyXPath); ok && freq > 0 {
		row.Wavelength = speedOfLightAngstrom / (freq * frequencyScale(units))
		row.WavelengthUnits = "A"
		return row, true
	}
	if sigma, _, ok := numericValue(n, wavenumberXPath); ok && sigma > 0 {
		row.Wavelength = 1e8 / sigma
		row.WavelengthUnits = "A"
		return row, true
	}
	return vamdc.Row{}, false
}

func childText(n *xmlquery.Node, expr string) string {
	child := xmlquery.FindOne(n, expr)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func numericValue(n *xmlquery.Node, expr string) (float64, string, bool) {
	child := xmlquery.FindOne(n, expr)
	if child == nil {
		return 0, "", false
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(child.InnerText()), 64)
	if err != nil {
		return 0, "", false
	}
	return val, child.SelectAttr("units"), true
}

// frequencyScale converts a frequency unit to Hz; XSAMS nodes default to MHz.
func frequencyScale(units string) float64 {
	switch strings.ToLower(units) {
	case "hz":
		return 1
	case "khz":
		return 1e3
	case "ghz":
		return 1e9
	case "thz":
		return 1e12
	default:
		return 1e6
	}
}
