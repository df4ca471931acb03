// Package idgen generates instance IDs for the control plane. IDs are
// monotonic within a process and globally unique across the cluster by
// embedding a node identifier in the high bits (spec.md §9 design notes).
package idgen

import (
	"sync/atomic"

	"github.com/eliasyaoyc/fastjob/internal/errors"
)

// seqBits is the number of low bits reserved for the per-node sequence
// counter; the remaining high bits hold the node ID. This caps a single
// node to 2^48 instance IDs before wraparound, which at one instance per
// millisecond is longer than any deployment's useful life.
const seqBits = 48

// Generator produces instance IDs of the form node_id<<48 | seq. It does
// not need wall-clock time: seq alone is enough for FIFO ordering within
// a node, and node_id keeps different nodes from colliding.
type Generator struct {
	nodeID uint64
	seq    atomic.Uint64
}

// New builds a Generator for nodeID, which must fit in 16 bits (the control
// plane is not expected to run more than 65535 nodes).
func New(nodeID uint16) *Generator {
	return &Generator{nodeID: uint64(nodeID) << seqBits}
}

// Next returns the next instance ID for this node. Safe for concurrent use.
func (g *Generator) Next() uint64 {
	seq := g.seq.Add(1)
	return g.nodeID | (seq & ((1 << seqBits) - 1))
}

// NodeIDFromAddr derives a stable 16-bit node ID from a listen address by
// hashing it, so a restarted process reuses the same ID without needing a
// coordination service. Collisions are possible but astronomically
// unlikely for cluster sizes this system targets.
func NodeIDFromAddr(addr string) (uint16, error) {
	if addr == "" {
		return 0, errors.Newf("idgen: empty address")
	}
	var h uint32 = 2166136261
	for i := 0; i < len(addr); i++ {
		h ^= uint32(addr[i])
		h *= 16777619
	}
	return uint16(h & 0xFFFF), nil
}
