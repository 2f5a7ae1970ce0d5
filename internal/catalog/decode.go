package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

type rawNode struct {
	ShortName     string `json:"shortName"`
	Description   string `json:"description"`
	ContactEmail  string `json:"contactEmail"`
	IVOIdentifier string `json:"ivoIdentifier"`
	TAPEndpoint   string `json:"tapEndpoint"`
	ReferenceURL  string `json:"referenceUrl"`
	LastUpdate    string `json:"lastUpdate"`
}

type rawSpecies struct {
	InChIKey              string   `json:"InChIKey"`
	InChI                 string   `json:"InChI"`
	Name                  string   `json:"name"`
	StoichiometricFormula string   `json:"stoichiometricFormula"`
	Charge                *float64 `json:"charge"`
	MassNumber            *float64 `json:"massNumber"`
	SpeciesType           string   `json:"speciesType"`
}

// DecodeNodes parses the species database node listing. Both a bare array and
// an object wrapping the array under "data" are accepted.
func DecodeNodes(payload []byte) ([]vamdc.NodeDescriptor, error) {
	trimmed := bytes.TrimSpace(payload)
	var raw []rawNode
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Data []rawNode `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode nodes: %w", err)
		}
		raw = wrapped.Data
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	out := make([]vamdc.NodeDescriptor, 0, len(raw))
	for _, n := range raw {
		if strings.TrimSpace(n.TAPEndpoint) == "" {
			continue
		}
		out = append(out, vamdc.NodeDescriptor{
			ShortName:     n.ShortName,
			IVOIdentifier: n.IVOIdentifier,
			Address:       n.TAPEndpoint,
			Description:   n.Description,
			ContactEmail:  n.ContactEmail,
			ReferenceURL:  n.ReferenceURL,
			LastUpdate:    n.LastUpdate,
		})
	}
	return out, nil
}

// DecodeSpecies parses the species listing, an object keyed by node IVO
// identifier whose values are the species records served there. Records are
// merged by InChIKey so each species appears once with all its nodes.
func DecodeSpecies(payload []byte) ([]vamdc.SpeciesDescriptor, error) {
	var byNode map[string][]rawSpecies
	if err := json.Unmarshal(payload, &byNode); err != nil {
		return nil, fmt.Errorf("decode species: %w", err)
	}
	ivos := make([]string, 0, len(byNode))
	for ivo := range byNode {
		ivos = append(ivos, ivo)
	}
	sort.Strings(ivos)

	index := make(map[string]int)
	var out []vamdc.SpeciesDescriptor
	for _, ivo := range ivos {
		for _, rec := range byNode[ivo] {
			key := vamdc.NormalizeInChIKey(rec.InChIKey)
			if key == "" {
				continue
			}
			if idx, ok := index[key]; ok {
				out[idx].Nodes = mergeIDs(out[idx].Nodes, []string{ivo})
				continue
			}
			sp := vamdc.SpeciesDescriptor{
				InChIKey:              key,
				InChI:                 rec.InChI,
				Name:                  rec.Name,
				StoichiometricFormula: rec.StoichiometricFormula,
				Class:                 vamdc.ParseSpeciesClass(rec.SpeciesType),
				Nodes:                 []string{ivo},
			}
			if rec.Charge != nil {
				sp.Charge = int(*rec.Charge)
			}
			if rec.MassNumber != nil {
				sp.MassNumber = int(*rec.MassNumber)
			}
			index[key] = len(out)
			out = append(out, sp)
		}
	}
	return out, nil
}
