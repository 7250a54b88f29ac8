package registry

import "testing"

func TestCanCommunicateSameCampusIsDirect(t *testing.T) {
	store := NewMemoryTopologyStore()
	store.Put(TopologyNode{NodeID: "a", CampusID: "campus-1"})
	store.Put(TopologyNode{NodeID: "b", CampusID: "campus-1"})

	if got := CanCommunicate(store, "a", "b"); got != PathDirect {
		t.Fatalf("expected DIRECT for same-campus nodes, got %s", got)
	}
}

func TestCanCommunicateTunnelPairUsesWireGuard(t *testing.T) {
	store := NewMemoryTopologyStore()
	store.Put(TopologyNode{NodeID: "a", CampusID: "campus-1", HasTunnel: true})
	store.Put(TopologyNode{NodeID: "b", CampusID: "campus-2", HasTunnel: true})

	if got := CanCommunicate(store, "a", "b"); got != PathWireGuard {
		t.Fatalf("expected WIREGUARD for a tunnelled pair in different campuses, got %s", got)
	}
}

func TestCanCommunicateFallsBackToBackbone(t *testing.T) {
	store := NewMemoryTopologyStore()
	store.Put(TopologyNode{NodeID: "a", CampusID: "campus-1", Tier: TierBackbone})
	store.Put(TopologyNode{NodeID: "b", CampusID: "campus-2"})

	if got := CanCommunicate(store, "a", "b"); got != PathBackbone {
		t.Fatalf("expected BACKBONE relay when one side is a backbone node, got %s", got)
	}
}

func TestCanCommunicateUnknownNodeIsNone(t *testing.T) {
	store := NewMemoryTopologyStore()
	store.Put(TopologyNode{NodeID: "a"})

	if got := CanCommunicate(store, "a", "ghost"); got != PathNone {
		t.Fatalf("expected NONE for an unregistered peer, got %s", got)
	}
}

func TestGetFabricPeersExcludesSelfAndOtherGroups(t *testing.T) {
	store := NewMemoryTopologyStore()
	store.Put(TopologyNode{NodeID: "a", FabricGroupID: "nvlink-1", FabricKind: FabricNVLink})
	store.Put(TopologyNode{NodeID: "b", FabricGroupID: "nvlink-1", FabricKind: FabricNVLink})
	store.Put(TopologyNode{NodeID: "c", FabricGroupID: "nvlink-2", FabricKind: FabricNVLink})

	peers := GetFabricPeers(store, "a")
	if len(peers) != 1 || peers[0].NodeID != "b" {
		t.Fatalf("expected exactly node b as a's fabric peer, got %+v", peers)
	}
}
