package catalog

import (
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// MatrixRequest is the input to BuildMatrix.
type MatrixRequest struct {
	// SpeciesIDs filters species by InChIKey or name; empty means every species.
	SpeciesIDs []string
	// NodeAddresses filters nodes by resolved address; empty means every node.
	NodeAddresses    []string
	LambdaMin        float64
	LambdaMax        float64
	AcceptTruncation bool
}

// MatrixReport summarizes how many filter entries matched the tables.
type MatrixReport struct {
	MatchedSpecies int `json:"matched_species"`
	MatchedNodes   int `json:"matched_nodes"`
	Descriptors    int `json:"descriptors"`
}

// BuildMatrix expands species x nodes into descriptors, keeping only pairs
// where the species is served by the node. Descriptors are ordered species
// first, then node, following filter order (or table order when a filter is
// empty).
func (s *Snapshot) BuildMatrix(req MatrixRequest) ([]vamdc.QueryDescriptor, MatrixReport, error) {
	window := vamdc.QueryDescriptor{LambdaMin: req.LambdaMin, LambdaMax: req.LambdaMax}
	if err := window.Validate(); err != nil {
		return nil, MatrixReport{}, err
	}

	species := s.selectSpecies(req.SpeciesIDs)
	nodes := s.selectNodes(req.NodeAddresses)
	report := MatrixReport{MatchedSpecies: len(species), MatchedNodes: len(nodes)}

	var out []vamdc.QueryDescriptor
	for _, sp := range species {
		for _, n := range nodes {
			if !sp.ServedBy(n.IVOIdentifier) {
				continue
			}
			out = append(out, vamdc.QueryDescriptor{
				SpeciesID:        sp.InChIKey,
				SpeciesClass:     sp.Class,
				NodeAddress:      n.Address,
				NodeShortName:    n.ShortName,
				LambdaMin:        req.LambdaMin,
				LambdaMax:        req.LambdaMax,
				AcceptTruncation: req.AcceptTruncation,
			})
		}
	}
	report.Descriptors = len(out)
	if len(out) == 0 {
		return nil, report, &vamdc.EmptyMatrixError{
			Species: normalizeAll(req.SpeciesIDs),
			Nodes:   append([]string(nil), req.NodeAddresses...),
		}
	}
	return out, report, nil
}

func (s *Snapshot) selectSpecies(ids []string) []vamdc.SpeciesDescriptor {
	if len(ids) == 0 {
		return s.species
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]vamdc.SpeciesDescriptor, 0, len(ids))
	for _, id := range ids {
		for _, sp := range s.ResolveSpecies(id) {
			if _, dup := seen[sp.InChIKey]; dup {
				continue
			}
			seen[sp.InChIKey] = struct{}{}
			out = append(out, sp)
		}
	}
	return out
}

func (s *Snapshot) selectNodes(addresses []string) []vamdc.NodeDescriptor {
	if len(addresses) == 0 {
		return s.nodes
	}
	seen := make(map[string]struct{}, len(addresses))
	out := make([]vamdc.NodeDescriptor, 0, len(addresses))
	for _, addr := range addresses {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		if n, ok := s.NodeByAddress(addr); ok {
			out = append(out, n)
		}
	}
	return out
}

func normalizeAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, vamdc.NormalizeInChIKey(id))
	}
	return out
}
