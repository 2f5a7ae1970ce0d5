// Package vamdc defines the core types shared by the line retrieval engine:
// reference descriptors for nodes and species, query descriptors, per-call
// results and the aggregated answer handed to the output layer.
package vamdc
