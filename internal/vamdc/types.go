package vamdc

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// NodeDescriptor identifies one remote data node.
type NodeDescriptor struct {
	ShortName     string `json:"short_name"`
	IVOIdentifier string `json:"ivo_identifier"`
	Address       string `json:"address"`
	Description   string `json:"description,omitempty"`
	ContactEmail  string `json:"contact_email,omitempty"`
	ReferenceURL  string `json:"reference_url,omitempty"`
	LastUpdate    string `json:"last_update,omitempty"`
}

// SpeciesClass is the coarse chemical category of a species.
type SpeciesClass string

// Species classes reported by the species database.
const (
	ClassAtomic    SpeciesClass = "atom"
	ClassMolecular SpeciesClass = "molecule"
	ClassParticle  SpeciesClass = "particle"
	ClassUnknown   SpeciesClass = "unknown"
)

// ParseSpeciesClass maps the database speciesType field onto a SpeciesClass.
func ParseSpeciesClass(raw string) SpeciesClass {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "atom", "atomic":
		return ClassAtomic
	case "molecule", "molecular":
		return ClassMolecular
	case "particle":
		return ClassParticle
	default:
		return ClassUnknown
	}
}

// SpeciesDescriptor describes one chemical species and where it is served.
type SpeciesDescriptor struct {
	InChIKey              string       `json:"inchikey"`
	InChI                 string       `json:"inchi,omitempty"`
	Name                  string       `json:"name"`
	StoichiometricFormula string       `json:"stoichiometric_formula,omitempty"`
	Charge                int          `json:"charge"`
	MassNumber            int          `json:"mass_number,omitempty"`
	Class                 SpeciesClass `json:"species_type"`
	// Nodes holds the IVO identifiers of nodes known to serve the species.
	Nodes []string `json:"nodes"`
}

// ServedBy reports whether the species is available at the node.
func (s SpeciesDescriptor) ServedBy(ivoIdentifier string) bool {
	for _, id := range s.Nodes {
		if id == ivoIdentifier {
			return true
		}
	}
	return false
}

// NormalizeInChIKey trims and upper-cases a species key.
func NormalizeInChIKey(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// QueryDescriptor is one atomic query: a species at a node over a wavelength
// window. The window is [LambdaMin, LambdaMax) unless MinOpen or MaxClosed say
// otherwise.
type QueryDescriptor struct {
	SpeciesID        string       `json:"species_id"`
	SpeciesClass     SpeciesClass `json:"species_class"`
	NodeAddress      string       `json:"node_address"`
	NodeShortName    string       `json:"node_short_name"`
	LambdaMin        float64      `json:"lambda_min"`
	LambdaMax        float64      `json:"lambda_max"`
	MinOpen          bool         `json:"min_open,omitempty"`
	MaxClosed        bool         `json:"max_closed,omitempty"`
	AcceptTruncation bool         `json:"accept_truncation"`
	// Depth counts the bisections that produced this descriptor.
	Depth int `json:"depth"`
	// TruncationWarning is set when truncation was accepted at a split bound.
	TruncationWarning bool `json:"truncation_warning,omitempty"`
}

// Validate checks the wavelength window.
func (d QueryDescriptor) Validate() error {
	if math.IsNaN(d.LambdaMin) || math.IsNaN(d.LambdaMax) ||
		math.IsInf(d.LambdaMin, 0) || math.IsInf(d.LambdaMax, 0) {
		return fmt.Errorf("%w: wavelength bounds must be finite", ErrInvalidDescriptor)
	}
	if d.LambdaMin < 0 {
		return fmt.Errorf("%w: wavelength bounds must be non-negative", ErrInvalidDescriptor)
	}
	if d.LambdaMin >= d.LambdaMax {
		return fmt.Errorf("%w: lambda-min %g must be below lambda-max %g",
			ErrInvalidDescriptor, d.LambdaMin, d.LambdaMax)
	}
	return nil
}

// Width returns LambdaMax - LambdaMin.
func (d QueryDescriptor) Width() float64 {
	return d.LambdaMax - d.LambdaMin
}

// Contains reports whether x falls inside the descriptor window.
func (d QueryDescriptor) Contains(x float64) bool {
	if d.MinOpen {
		if x <= d.LambdaMin {
			return false
		}
	} else if x < d.LambdaMin {
		return false
	}
	if d.MaxClosed {
		return x <= d.LambdaMax
	}
	return x < d.LambdaMax
}

// Bisect splits the window at its midpoint. The midpoint belongs to the lower
// half. ok is false when the midpoint is not strictly inside the window.
func (d QueryDescriptor) Bisect() (lower QueryDescriptor, upper QueryDescriptor, ok bool) {
	mid := d.LambdaMin + (d.LambdaMax-d.LambdaMin)/2
	if !(mid > d.LambdaMin && mid < d.LambdaMax) {
		return d, d, false
	}
	lower = d
	lower.LambdaMax = mid
	lower.MaxClosed = true
	lower.Depth = d.Depth + 1

	upper = d
	upper.LambdaMin = mid
	upper.MinOpen = true
	upper.Depth = d.Depth + 1
	return lower, upper, true
}

// Interval renders the window in interval notation.
func (d QueryDescriptor) Interval() string {
	left, right := "[", ")"
	if d.MinOpen {
		left = "("
	}
	if d.MaxClosed {
		right = "]"
	}
	return fmt.Sprintf("%s%g, %g%s", left, d.LambdaMin, d.LambdaMax, right)
}

// String identifies the descriptor in logs and errors.
func (d QueryDescriptor) String() string {
	node := d.NodeShortName
	if node == "" {
		node = d.NodeAddress
	}
	return fmt.Sprintf("%s@%s %s", d.SpeciesID, node, d.Interval())
}

// PayloadRef points at a raw XSAMS document staged by a worker.
type PayloadRef struct {
	URI    string `json:"uri"`
	Bytes  int64  `json:"bytes"`
	Digest string `json:"digest"`
}

// Row is one radiative transition extracted from a node response.
type Row struct {
	Node            string             `json:"node"`
	NodeShortName   string             `json:"node_short_name"`
	SpeciesClass    SpeciesClass       `json:"species_type"`
	SpeciesID       string             `json:"inchikey"`
	TransitionID    string             `json:"transition_id"`
	SpeciesRef      string             `json:"species_ref,omitempty"`
	Wavelength      float64            `json:"wavelength"`
	WavelengthUnits string             `json:"wavelength_units,omitempty"`
	UpperStateRef   string             `json:"upper_state_ref,omitempty"`
	LowerStateRef   string             `json:"lower_state_ref,omitempty"`
	Values          map[string]float64 `json:"values,omitempty"`
}

// FetchResponse is the composite outcome of one remote call: status, header
// counters and, for full fetches, the body.
type FetchResponse struct {
	StatusCode int
	Counters   Counters
	Truncated  bool
	Token      string
	Body       []byte
	Duration   time.Duration
}

// SubQueryResult answers one descriptor.
type SubQueryResult struct {
	Descriptor QueryDescriptor `json:"descriptor"`
	Counters   Counters        `json:"counters"`
	Truncated  bool            `json:"truncated"`
	Token      string          `json:"token,omitempty"`
	Rows       []Row           `json:"rows,omitempty"`
	Payload    *PayloadRef     `json:"payload,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Err        error           `json:"-"`
	Error      string          `json:"error,omitempty"`
}

// Failed reports whether the call soft-failed.
func (r SubQueryResult) Failed() bool {
	return r.Err != nil
}

// StatusNoData is the status a node answers with when it has nothing for a
// descriptor.
const StatusNoData = 204

// NoData reports whether the node answered with no data.
func (r SubQueryResult) NoData() bool {
	return r.Err == nil && r.StatusCode == StatusNoData
}

// EmptyResult builds the successful zero-counter result for a no-data answer.
func EmptyResult(d QueryDescriptor) SubQueryResult {
	return SubQueryResult{
		Descriptor: d,
		Counters:   Counters{},
		StatusCode: StatusNoData,
	}
}

// FailedResult builds the zero-counter result recorded for a soft failure.
func FailedResult(d QueryDescriptor, err error) SubQueryResult {
	return SubQueryResult{
		Descriptor: d,
		Counters:   Counters{},
		Err:        err,
		Error:      err.Error(),
	}
}

// AggregatedResult merges every sub-query of one request.
type AggregatedResult struct {
	Results   []SubQueryResult `json:"results"`
	Totals    Counters         `json:"totals"`
	Rows      []Row            `json:"rows"`
	Relocated []string         `json:"relocated,omitempty"`
	Archived  []string         `json:"archived,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Failures counts soft-failed sub-queries.
func (a AggregatedResult) Failures() int {
	n := 0
	for _, r := range a.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// OutputMode selects what a dispatch call materializes.
type OutputMode uint8

// Output modes; they may be combined.
const (
	OutputRows OutputMode = 1 << iota
	OutputPayload
)

// Has reports whether m includes flag.
func (m OutputMode) Has(flag OutputMode) bool {
	return m&flag != 0
}
