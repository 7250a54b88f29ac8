package registry

// TopologyStore resolves the overlay attributes used by can_communicate and
// get_fabric_peers. The only implementation is MemoryTopologyStore, an
// in-process map filled through Put; node registration does not populate it
// and it is not backed by the relational store.
type TopologyStore interface {
	Get(nodeID string) (TopologyNode, bool)
	All() []TopologyNode
}

// MemoryTopologyStore is the default in-process TopologyStore.
type MemoryTopologyStore struct {
	nodes map[string]TopologyNode
}

// NewMemoryTopologyStore creates an empty MemoryTopologyStore.
func NewMemoryTopologyStore() *MemoryTopologyStore {
	return &MemoryTopologyStore{nodes: make(map[string]TopologyNode)}
}

// Put registers or replaces a node's topology attributes.
func (m *MemoryTopologyStore) Put(n TopologyNode) {
	m.nodes[n.NodeID] = n
}

// Get returns a node's topology attributes.
func (m *MemoryTopologyStore) Get(nodeID string) (TopologyNode, bool) {
	n, ok := m.nodes[nodeID]
	return n, ok
}

// All returns every registered topology node.
func (m *MemoryTopologyStore) All() []TopologyNode {
	out := make([]TopologyNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// CanCommunicate answers whether two nodes can reach each other directly,
// via a WireGuard tunnel, or only via the backbone relay.
func CanCommunicate(store TopologyStore, a, b string) CommunicationPath {
	if a == b {
		return PathDirect
	}
	nodeA, ok := store.Get(a)
	if !ok {
		return PathNone
	}
	nodeB, ok := store.Get(b)
	if !ok {
		return PathNone
	}

	if nodeA.CampusID != "" && nodeA.CampusID == nodeB.CampusID {
		return PathDirect
	}
	if nodeA.FabricGroupID != "" && nodeA.FabricGroupID == nodeB.FabricGroupID {
		return PathDirect
	}
	if nodeA.HasTunnel && nodeB.HasTunnel {
		return PathWireGuard
	}
	if nodeA.Tier == TierBackbone || nodeB.Tier == TierBackbone {
		return PathBackbone
	}
	return PathNone
}

// GetFabricPeers returns every node sharing nodeID's fabric group (NVLink or
// InfiniBand island), excluding nodeID itself.
func GetFabricPeers(store TopologyStore, nodeID string) []TopologyNode {
	self, ok := store.Get(nodeID)
	if !ok || self.FabricGroupID == "" {
		return nil
	}
	var peers []TopologyNode
	for _, n := range store.All() {
		if n.NodeID == nodeID {
			continue
		}
		if n.FabricGroupID == self.FabricGroupID {
			peers = append(peers, n)
		}
	}
	return peers
}
