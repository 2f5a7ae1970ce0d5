// Package catalog holds the read-only node and species reference tables used
// by one request. It resolves node identifiers and expands species and node
// filters into query descriptors.
package catalog

import (
	"sort"
	"strings"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Snapshot is an immutable view of the reference tables. It is safe for
// concurrent use once built.
type Snapshot struct {
	nodes   []vamdc.NodeDescriptor
	species []vamdc.SpeciesDescriptor

	byAddress map[string]int
	byIVO     map[string]int
	bySpecies map[string]int
}

// NewSnapshot copies the tables and indexes them. Species keys are normalized
// and duplicate keys are merged so that node availability is the union.
func NewSnapshot(nodes []vamdc.NodeDescriptor, species []vamdc.SpeciesDescriptor) *Snapshot {
	s := &Snapshot{
		nodes:     make([]vamdc.NodeDescriptor, 0, len(nodes)),
		byAddress: make(map[string]int, len(nodes)),
		byIVO:     make(map[string]int, len(nodes)),
		bySpecies: make(map[string]int, len(species)),
	}
	for _, n := range nodes {
		if _, dup := s.byIVO[n.IVOIdentifier]; dup && n.IVOIdentifier != "" {
			continue
		}
		idx := len(s.nodes)
		s.nodes = append(s.nodes, n)
		if _, ok := s.byAddress[n.Address]; !ok && n.Address != "" {
			s.byAddress[n.Address] = idx
		}
		if n.IVOIdentifier != "" {
			s.byIVO[n.IVOIdentifier] = idx
		}
	}
	for _, sp := range species {
		key := vamdc.NormalizeInChIKey(sp.InChIKey)
		if key == "" {
			continue
		}
		if idx, ok := s.bySpecies[key]; ok {
			s.species[idx].Nodes = mergeIDs(s.species[idx].Nodes, sp.Nodes)
			continue
		}
		sp.InChIKey = key
		sp.Nodes = mergeIDs(nil, sp.Nodes)
		s.bySpecies[key] = len(s.species)
		s.species = append(s.species, sp)
	}
	return s
}

// Nodes returns a copy of the node table.
func (s *Snapshot) Nodes() []vamdc.NodeDescriptor {
	return append([]vamdc.NodeDescriptor(nil), s.nodes...)
}

// Species returns a copy of the species table.
func (s *Snapshot) Species() []vamdc.SpeciesDescriptor {
	out := make([]vamdc.SpeciesDescriptor, len(s.species))
	for i, sp := range s.species {
		sp.Nodes = append([]string(nil), sp.Nodes...)
		out[i] = sp
	}
	return out
}

// LookupSpecies finds a species by (unnormalized) InChIKey.
func (s *Snapshot) LookupSpecies(key string) (vamdc.SpeciesDescriptor, bool) {
	idx, ok := s.bySpecies[vamdc.NormalizeInChIKey(key)]
	if !ok {
		return vamdc.SpeciesDescriptor{}, false
	}
	return s.species[idx], true
}

// ResolveSpecies maps an InChIKey or a species name to species. An InChIKey
// match wins; otherwise every species whose name or stoichiometric formula
// equals input, ignoring case, is returned in table order.
func (s *Snapshot) ResolveSpecies(input string) []vamdc.SpeciesDescriptor {
	if sp, ok := s.LookupSpecies(input); ok {
		return []vamdc.SpeciesDescriptor{sp}
	}
	key := strings.TrimSpace(input)
	if key == "" {
		return nil
	}
	var out []vamdc.SpeciesDescriptor
	for _, sp := range s.species {
		if strings.EqualFold(sp.Name, key) || strings.EqualFold(sp.StoichiometricFormula, key) {
			out = append(out, sp)
		}
	}
	return out
}

// NodeByAddress finds a node by its canonical service address.
func (s *Snapshot) NodeByAddress(address string) (vamdc.NodeDescriptor, bool) {
	idx, ok := s.byAddress[address]
	if !ok {
		return vamdc.NodeDescriptor{}, false
	}
	return s.nodes[idx], true
}

// ResolveNode maps a free-form identifier to a node. Precedence is exact
// address, then exact IVO identifier, then case-insensitive short name.
func (s *Snapshot) ResolveNode(input string) (vamdc.NodeDescriptor, error) {
	key := strings.TrimSpace(input)
	if idx, ok := s.byAddress[key]; ok && key != "" {
		return s.nodes[idx], nil
	}
	if idx, ok := s.byIVO[key]; ok && key != "" {
		return s.nodes[idx], nil
	}
	if key != "" {
		for _, n := range s.nodes {
			if strings.EqualFold(n.ShortName, key) {
				return n, nil
			}
		}
	}
	return vamdc.NodeDescriptor{}, &vamdc.NodeNotFoundError{Input: input}
}

// ResolveNodes resolves every input and returns the distinct addresses in
// input order. The first unresolvable input aborts.
func (s *Snapshot) ResolveNodes(inputs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		n, err := s.ResolveNode(in)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[n.Address]; ok {
			continue
		}
		seen[n.Address] = struct{}{}
		out = append(out, n.Address)
	}
	return out, nil
}

func mergeIDs(dst []string, src []string) []string {
	set := make(map[string]struct{}, len(dst)+len(src))
	for _, id := range dst {
		set[id] = struct{}{}
	}
	for _, id := range src {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
