package deploy

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const unmatched = -1

// Match pairs every requested instance with a distinct compatible host.
//
// It builds a bipartite graph with an edge (i, j) whenever hosts[j] satisfies
// the topology required by instance i, then runs Hopcroft–Karp to find a
// maximum matching. If every instance can be paired the pairing list is
// returned in request order; hosts left over stay unassigned. If the maximum
// matching is smaller than the instance count the deployment is infeasible
// and no partial result is produced. A request with zero instances trivially
// succeeds with an empty pairing list.
//
// Any maximum matching is acceptable; the specific host chosen among equally
// valid candidates is an implementation detail, but is deterministic for a
// given request and host list.
func Match(req *Request, hosts []Host) ([]Pairing, error) {
	graph := newBipartiteGraph(len(req.Instances), len(hosts))
	for i, in := range req.Instances {
		required := req.RequiredTopology(in)
		for j, host := range hosts {
			if host.Satisfies(required) {
				graph.addEdge(i, j)
			}
		}
	}

	matchLeft := graph.maximumMatching()

	pairings := make([]Pairing, 0, len(req.Instances))
	var missing []string
	for i, in := range req.Instances {
		if matchLeft[i] == unmatched {
			missing = append(missing, in.Name)
			continue
		}
		pairings = append(pairings, Pairing{InstanceName: in.Name, HostIndex: hosts[matchLeft[i]].Index})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: matched %d of %d instances across %d hosts; unmatchable: %s",
			ErrInfeasible, len(pairings), len(req.Instances), len(hosts), strings.Join(missing, ", "))
	}

	logrus.WithFields(logrus.Fields{
		"request":   req.Name,
		"instances": len(req.Instances),
		"hosts":     len(hosts),
	}).Debug("matching complete")
	return pairings, nil
}

// bipartiteGraph holds the instance/host compatibility edges. Left vertices
// are instance indexes, right vertices are positions in the host list.
type bipartiteGraph struct {
	numLeft  int
	numRight int
	adj      [][]int
}

func newBipartiteGraph(numLeft, numRight int) *bipartiteGraph {
	return &bipartiteGraph{
		numLeft:  numLeft,
		numRight: numRight,
		adj:      make([][]int, numLeft),
	}
}

func (g *bipartiteGraph) addEdge(left, right int) {
	g.adj[left] = append(g.adj[left], right)
}

const infiniteDistance = int(^uint(0) >> 1)

// maximumMatching runs Hopcroft–Karp in O(E·sqrt(V)): repeated BFS phases
// layer the alternating-path forest from free left vertices, and DFS passes
// augment along vertex-disjoint shortest paths until no augmenting path
// remains. The result maps each left vertex to its right partner, or
// unmatched.
func (g *bipartiteGraph) maximumMatching() []int {
	matchLeft := make([]int, g.numLeft)
	matchRight := make([]int, g.numRight)
	for i := range matchLeft {
		matchLeft[i] = unmatched
	}
	for j := range matchRight {
		matchRight[j] = unmatched
	}
	dist := make([]int, g.numLeft)

	bfs := func() bool {
		queue := make([]int, 0, g.numLeft)
		for u := 0; u < g.numLeft; u++ {
			if matchLeft[u] == unmatched {
				dist[u] = 0
				queue = append(queue, u)
			} else {
				dist[u] = infiniteDistance
			}
		}
		foundAugmenting := false
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, v := range g.adj[u] {
				w := matchRight[v]
				if w == unmatched {
					foundAugmenting = true
				} else if dist[w] == infiniteDistance {
					dist[w] = dist[u] + 1
					queue = append(queue, w)
				}
			}
		}
		return foundAugmenting
	}

	var dfs func(u int) bool
	dfs = func(u int) bool {
		for _, v := range g.adj[u] {
			w := matchRight[v]
			if w == unmatched || (dist[w] == dist[u]+1 && dfs(w)) {
				matchLeft[u] = v
				matchRight[v] = u
				return true
			}
		}
		dist[u] = infiniteDistance
		return false
	}

	for bfs() {
		for u := 0; u < g.numLeft; u++ {
			if matchLeft[u] == unmatched {
				dfs(u)
			}
		}
	}
	return matchLeft
}
