package engine

import (
	"context"
)

// Per-hop attenuation and the weight below which traversal stops.
const (
	hopDecay     = 0.8
	hopCutoff    = 0.1
	maxHopWeight = 1.0
)

// expansion is one memory reached through the waypoint graph, with the path
// that led there (seed first) and the attenuated weight.
type expansion struct {
	ID     string
	Weight float64
	Path   []string
	Hops   int
}

// expandWaypoints walks the graph breadth-first from the seed ids. Each hop
// multiplies the accumulated weight by the edge weight and the hop decay;
// branches fall off once the weight drops under the cutoff or the depth limit
// is reached. Already-seen ids (seeds included) are never revisited, and the
// total number of expansions is bounded by budget.
func (e *Engine) expandWaypoints(ctx context.Context, tenantID string, seeds []string, budget int) ([]expansion, error) {
	if budget <= 0 || len(seeds) == 0 {
		return nil, nil
	}
	maxDepth := e.cfg.Graph.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}

	visited := make(map[string]bool, len(seeds))
	queue := make([]expansion, 0, len(seeds))
	for _, id := range seeds {
		visited[id] = true
		queue = append(queue, expansion{ID: id, Weight: 1.0, Path: []string{id}})
	}

	var out []expansion
	for len(queue) > 0 && len(out) < budget {
		cur := queue[0]
		queue = queue[1:]
		if cur.Hops >= maxDepth {
			continue
		}

		neighbors, err := e.store.Neighbors(ctx, tenantID, cur.ID)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited[n.DstID] {
				continue
			}
			w := n.Weight
			if w > maxHopWeight {
				w = maxHopWeight
			}
			if w < 0 {
				w = 0
			}
			expWeight := cur.Weight * w * hopDecay
			if expWeight < hopCutoff {
				continue
			}
			visited[n.DstID] = true

			path := make([]string, len(cur.Path)+1)
			copy(path, cur.Path)
			path[len(cur.Path)] = n.DstID

			next := expansion{ID: n.DstID, Weight: expWeight, Path: path, Hops: cur.Hops + 1}
			out = append(out, next)
			if len(out) >= budget {
				break
			}
			queue = append(queue, next)
		}
	}
	return out, nil
}
