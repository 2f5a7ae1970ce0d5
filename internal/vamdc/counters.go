package vamdc

import (
	"sort"
	"strings"
)

// Header names used by VAMDC TAP nodes.
const (
	HeaderCountPrefix  = "VAMDC-COUNT-"
	HeaderApproxSize   = "VAMDC-APPROX-SIZE"
	HeaderTruncated    = "VAMDC-TRUNCATED"
	HeaderRequestToken = "VAMDC-REQUEST-TOKEN"
	CounterRadiative   = HeaderCountPrefix + "RADIATIVE"
)

// Counters maps upper-cased header names to their numeric values.
type Counters map[string]float64

// IsAdditive reports whether a counter is summed across sub-queries.
func IsAdditive(name string) bool {
	name = strings.ToUpper(name)
	return strings.HasPrefix(name, HeaderCountPrefix) || name == HeaderApproxSize
}

// Add sums the additive counters of other into c.
func (c Counters) Add(other Counters) {
	for name, v := range other {
		if IsAdditive(name) {
			c[name] += v
		}
	}
}

// Clone returns an independent copy.
func (c Counters) Clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Names returns the counter names in lexical order.
func (c Counters) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
