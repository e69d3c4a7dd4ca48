package peertable

import "github.com/ethereum/go-ethereum/p2p/enode"

// nodesAtDistances is the distance-indexed lookup of SPEC_FULL.md
// §4.5.5: for each requested bucket distance, every contact that has an
// ENR and whose node id is exactly that XOR-bit-distance from localID —
// peers carry no Record and never answer this lookup — capped at
// MaxEnrsPerFindNodeResponse results in total across every distance
// (§8.1), not per distance.
func (t *Table) nodesAtDistances(localID enode.ID, distances []int) map[int][]*enode.Node {
	wanted := make(map[int]bool, len(distances))
	for _, d := range distances {
		wanted[d] = true
	}

	out := make(map[int][]*enode.Node, len(distances))
	total := 0
	for _, c := range t.contacts {
		if total >= MaxEnrsPerFindNodeResponse {
			break
		}
		if c.Record == nil {
			continue
		}
		d := enode.LogDist(localID, c.Node.ID())
		if !wanted[d] {
			continue
		}
		out[d] = append(out[d], c.Node)
		total++
	}
	return out
}
