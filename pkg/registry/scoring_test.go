package registry

import "testing"

func candidate(g GPU, n Node) struct {
	GPU  GPU
	Node Node
} {
	return struct {
		GPU  GPU
		Node Node
	}{GPU: g, Node: n}
}

// TestDiscoverScoresBackboneHigherThanEdge verifies that a verified BACKBONE
// GPU with ample headroom outscores an unverified EDGE GPU, and that the
// balanced ranking puts it first.
func TestDiscoverScoresBackboneHigherThanEdge(t *testing.T) {
	g1 := GPU{GPUID: "g1", NodeID: "n1", Tier: "H100", VRAMGB: 80, VRAMAvailableGB: 80, PriceUSDPerHour: 2.00}
	n1 := Node{NodeID: "n1", Tier: TierBackbone, Trust: 90, VeritasVerified: true, Status: NodeOnline}

	g2 := GPU{GPUID: "g2", NodeID: "n2", Tier: "RTX4090", VRAMGB: 24, VRAMAvailableGB: 24, PriceUSDPerHour: 1.20}
	n2 := Node{NodeID: "n2", Tier: TierEdge, Trust: 40, VeritasVerified: false, Status: NodeOnline}

	criteria := DiscoveryCriteria{MinVRAMGB: 16, MaxPriceUSDPerHour: 5.00, PreferredTiers: []SupplyTier{TierBackbone, TierCampus, TierEdge}}
	scored := Discover([]struct {
		GPU  GPU
		Node Node
	}{candidate(g1, n1), candidate(g2, n2)}, criteria, 20)

	if len(scored) != 2 {
		t.Fatalf("expected both candidates to pass hard filters, got %d", len(scored))
	}

	var s1, s2 int
	for _, sc := range scored {
		switch sc.GPU.GPUID {
		case "g1":
			s1 = sc.Score
		case "g2":
			s2 = sc.Score
		}
	}
	if s1 < 55 {
		t.Errorf("expected backbone candidate score >= 55, got %d", s1)
	}
	if s2 > 30 {
		t.Errorf("expected edge candidate score well below backbone, got %d", s2)
	}
	if scored[0].GPU.GPUID != "g1" {
		t.Errorf("expected backbone candidate ranked first under default ordering, got %s", scored[0].GPU.GPUID)
	}
}

func TestApplyStrategyCheapestPrefersLowerPrice(t *testing.T) {
	expensive := ScoredGPU{GPU: GPU{GPUID: "g1", PriceUSDPerHour: 2.00}, Score: 90}
	cheap := ScoredGPU{GPU: GPU{GPUID: "g2", PriceUSDPerHour: 1.20}, Score: 20}

	ranked := applyStrategy([]ScoredGPU{expensive, cheap}, StrategyCheapest)
	if ranked[0].GPU.GPUID != "g2" {
		t.Fatalf("expected CHEAPEST to rank the lower-priced GPU first, got %s", ranked[0].GPU.GPUID)
	}
}

func TestApplyStrategyBalancedKeepsScoreOrder(t *testing.T) {
	a := ScoredGPU{GPU: GPU{GPUID: "g1"}, Score: 90}
	b := ScoredGPU{GPU: GPU{GPUID: "g2"}, Score: 20}

	ranked := applyStrategy([]ScoredGPU{a, b}, StrategyBalanced)
	if ranked[0].GPU.GPUID != "g1" {
		t.Fatalf("expected BALANCED to preserve the incoming score order, got %s", ranked[0].GPU.GPUID)
	}
}

func TestPassesHardFiltersRejectsInsufficientVRAM(t *testing.T) {
	g := GPU{VRAMAvailableGB: 8}
	n := Node{Status: NodeOnline}
	c := DiscoveryCriteria{MinVRAMGB: 16}
	if passesHardFilters(g, n, c) {
		t.Fatal("expected insufficient VRAM to fail the hard filter")
	}
}

func TestPassesHardFiltersRejectsOfflineNode(t *testing.T) {
	g := GPU{VRAMAvailableGB: 80}
	n := Node{Status: NodeOffline}
	c := DiscoveryCriteria{MinVRAMGB: 16}
	if passesHardFilters(g, n, c) {
		t.Fatal("expected an offline node to fail the hard filter")
	}
}

func TestPassesHardFiltersRequiresNVLinkWhenRequested(t *testing.T) {
	g := GPU{VRAMAvailableGB: 80, NVLink: false}
	n := Node{Status: NodeOnline}
	c := DiscoveryCriteria{MinVRAMGB: 16, RequireNVLink: true}
	if passesHardFilters(g, n, c) {
		t.Fatal("expected a non-NVLink GPU to fail when NVLink is required")
	}
}
