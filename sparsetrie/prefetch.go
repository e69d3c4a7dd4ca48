package sparsetrie

import (
	"golang.org/x/sync/errgroup"

	"github.com/ethcorego/execution-core/trie/nibbles"
)

// PrefetchPaths warms the trie for a batch of upcoming lookups/updates
// without mutating it. Phase one reveals, sequentially, every requested
// path shorter than two nibbles and the two-nibble boundary node of
// every distinct lower subtrie the batch touches — one provider call per
// touched lower subtrie, up to 256. It does not walk the upper subtrie
// from the root down to those boundaries. Phase two then walks each
// lower subtrie down to its requested paths; since the 256 lower
// subtries are disjoint storage, one goroutine per touched subtrie can
// run concurrently with no locking.
func (t *SparseTrie) PrefetchPaths(paths []nibbles.Nibbles, provider Provider) error {
	byLower := make(map[int][]nibbles.Nibbles)
	for _, p := range paths {
		if belongsToUpper(p) {
			if _, err := t.ensureNode(p, provider); err != nil {
				return err
			}
			continue
		}
		idx := lowerIndex(p)
		byLower[idx] = append(byLower[idx], p)
	}

	for idx := range byLower {
		boundary := nibbles.Nibbles{byte(idx / 16), byte(idx % 16)}
		if _, err := t.ensureNode(boundary, provider); err != nil {
			return err
		}
	}

	g := new(errgroup.Group)
	for _, group := range byLower {
		group := group
		g.Go(func() error {
			for _, p := range group {
				if _, err := t.walkReveal(p, provider); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// walkReveal descends from path's lower-subtrie boundary toward path,
// revealing every node along the way, and returns whichever node the
// descent stopped at (the target itself, or the point where the key
// turned out not to be present).
func (t *SparseTrie) walkReveal(target nibbles.Nibbles, provider Provider) (*SparseNode, error) {
	p := target[:2]
	for {
		node, err := t.ensureNode(p, provider)
		if err != nil {
			return nil, err
		}
		if p.Equal(target) {
			return node, nil
		}
		switch node.Kind {
		case NodeExtension:
			suffix := target[len(p):]
			if !hasPrefix(suffix, node.Key) {
				return node, nil
			}
			p = p.Join(node.Key)
		case NodeBranch:
			suffix := target[len(p):]
			if isTerminal(suffix) {
				return node, nil
			}
			nxt := suffix[0]
			if node.StateMask&(1<<uint(nxt)) == 0 {
				return node, nil
			}
			p = p.Join(nibbles.Nibbles{nxt})
		default:
			return node, nil
		}
	}
}
