package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/roach88/flowscript/internal/value"
)

// DomainGraph prefixes graph hashes. The version suffix allows migrating the
// algorithm without colliding with older hashes.
const DomainGraph = "flowscript/graph/v1"

// hashWithDomain computes SHA-256(domain + 0x00 + data) and keeps the first
// 8 bytes. The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) uint64 {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// contentHash hashes everything that affects execution: node types, settings,
// pin layout and connections. The display name is excluded.
func contentHash(g *Graph) (uint64, error) {
	nodes := make(value.List, len(g.nodes))
	for i, n := range g.nodes {
		pins := make(value.List, len(n.Pins))
		for j, p := range n.Pins {
			conns := make(value.List, len(p.Connections))
			for k, c := range p.Connections {
				conns[k] = value.List{value.Int(c.Node), value.Int(c.Pin)}
			}
			pins[j] = value.Map{
				"kind":  value.String(p.Kind.String()),
				"conns": conns,
			}
		}
		nodes[i] = value.Map{
			"id":       value.Int(n.ID),
			"type":     value.String(n.Type),
			"settings": n.Settings,
			"pins":     pins,
		}
	}

	canonical, err := value.MarshalCanonical(value.Map{"nodes": nodes})
	if err != nil {
		return 0, fmt.Errorf("marshal graph: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// FormatHash renders a graph hash as 16 lowercase hex digits.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParseHash is the inverse of FormatHash.
func ParseHash(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("graph hash %q: want 16 hex digits", s)
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("graph hash %q: %w", s, err)
	}
	return h, nil
}
