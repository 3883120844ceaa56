package corectl

import (
	"sync"

	"github.com/couchbase/gocbclientcore/clusternode"
)

// nodeSet is the reconciler's snapshot-oriented view of every node it
// currently manages. It satisfies locator.NodeLookup directly.
type nodeSet struct {
	mu    sync.Mutex
	nodes map[clusternode.Identifier]*clusternode.Node
}

func newNodeSet() *nodeSet {
	return &nodeSet{nodes: make(map[clusternode.Identifier]*clusternode.Node)}
}

// NodeByIdentifier implements locator.NodeLookup.
func (s *nodeSet) NodeByIdentifier(id clusternode.Identifier) (*clusternode.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Nodes implements locator.NodeLookup.
func (s *nodeSet) Nodes() []*clusternode.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*clusternode.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

func (s *nodeSet) getOrCreate(id clusternode.Identifier, create func() *clusternode.Node) *clusternode.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		return n
	}
	n := create()
	s.nodes[id] = n
	return n
}

func (s *nodeSet) remove(id clusternode.Identifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
}

func (s *nodeSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
