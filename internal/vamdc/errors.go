package vamdc

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the engine.
var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrEmptyQueryMatrix  = errors.New("empty query matrix")
	ErrNoDescriptors     = errors.New("no descriptors to dispatch")
	ErrAllFailed         = errors.New("every sub-query failed")
	ErrNoData            = errors.New("node returned no data")
	ErrInvalidDescriptor = errors.New("invalid query descriptor")
)

// NodeNotFoundError names the input that could not be resolved.
type NodeNotFoundError struct {
	Input string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %q not found in node table", e.Input)
}

// Unwrap lets errors.Is match ErrNodeNotFound.
func (e *NodeNotFoundError) Unwrap() error {
	return ErrNodeNotFound
}

// EmptyMatrixError carries the filters that produced no species/node pairing.
type EmptyMatrixError struct {
	Species []string
	Nodes   []string
}

func (e *EmptyMatrixError) Error() string {
	species := "all species"
	if len(e.Species) > 0 {
		species = "species " + strings.Join(e.Species, ", ")
	}
	nodes := "any node"
	if len(e.Nodes) > 0 {
		nodes = "nodes " + strings.Join(e.Nodes, ", ")
	}
	return fmt.Sprintf("empty query matrix: %s not served by %s", species, nodes)
}

// Unwrap lets errors.Is match ErrEmptyQueryMatrix.
func (e *EmptyMatrixError) Unwrap() error {
	return ErrEmptyQueryMatrix
}

// AllFailedError reports a request in which every sub-query soft-failed.
type AllFailedError struct {
	Count int
	First error
}

func (e *AllFailedError) Error() string {
	if e.First == nil {
		return fmt.Sprintf("all %d sub-queries failed", e.Count)
	}
	return fmt.Sprintf("all %d sub-queries failed (first: %v)", e.Count, e.First)
}

// Unwrap lets errors.Is match ErrAllFailed.
func (e *AllFailedError) Unwrap() error {
	return ErrAllFailed
}
