package registry

import "sort"

// passesHardFilters disqualifies candidates that fail any non-negotiable
// requirement.
func passesHardFilters(g GPU, n Node, c DiscoveryCriteria) bool {
	if g.VRAMAvailableGB < c.MinVRAMGB {
		return false
	}
	if len(c.GPUTiers) > 0 && !stringIn(c.GPUTiers, g.Tier) {
		return false
	}
	if c.RequireNVLink && !g.NVLink {
		return false
	}
	if c.MinBenchmarkScore > 0 && g.BenchmarkScore < c.MinBenchmarkScore {
		return false
	}
	if c.MinNodeTrust > 0 && n.Trust < c.MinNodeTrust {
		return false
	}
	if c.MaxPriceUSDPerHour > 0 && g.PriceUSDPerHour > c.MaxPriceUSDPerHour {
		return false
	}
	allowed := c.AllowedWorkloadTypes
	if c.WorkloadType != "" && len(allowed) == 0 {
		allowed = []string{c.WorkloadType}
	}
	if len(allowed) > 0 && !stringIn(allowed, c.WorkloadType) && !workloadTypesOverlap(g.WorkloadTypes, allowed) {
		return false
	}
	if n.Status != NodeOnline && n.Status != NodePartial {
		return false
	}
	return true
}

func stringIn(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func workloadTypesOverlap(gpuTypes, allowed []string) bool {
	for _, t := range gpuTypes {
		if stringIn(allowed, t) {
			return true
		}
	}
	return false
}

func tierRank(preferred []SupplyTier, tier SupplyTier) (rank int, found bool) {
	for i, t := range preferred {
		if t == tier {
			return i, true
		}
	}
	return 0, false
}

// score computes a candidate's 0-100 composite score across weighted bands.
func score(g GPU, n Node, c DiscoveryCriteria) int {
	total := 0

	if rank, found := tierRank(c.PreferredTiers, n.Tier); found {
		switch rank {
		case 0:
			total += 25
		case 1:
			total += 15
		default:
			total += 5
		}
	} else {
		total += 5
	}

	if (c.PreferredInstitution != "" && n.InstitutionID == c.PreferredInstitution) ||
		(c.PreferredCampusID != "" && n.CampusID == c.PreferredCampusID) {
		total += 20
	}

	total += (n.Trust * 15) / 100

	if n.VeritasVerified {
		total += 10
	}

	headroom := g.VRAMAvailableGB - c.MinVRAMGB
	switch {
	case headroom >= c.MinVRAMGB:
		total += 10
	case headroom > 0:
		total += 5
	}

	if c.MaxPriceUSDPerHour > 0 {
		total += int((1 - g.PriceUSDPerHour/c.MaxPriceUSDPerHour) * 10)
	} else {
		total += 5
	}

	switch {
	case g.LatencyMs < 5:
		total += 5
	case g.LatencyMs < 20:
		total += 3
	case g.LatencyMs < 50:
		total += 1
	}

	if stringIn(c.PreferredRegions, n.Region) {
		total += 5
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}

func estimatedWaitSeconds(activeJobs int) int {
	return activeJobs * 1800
}

// Discover filters candidates by hard filter, scores survivors, and returns
// the top maxResults ranked by (-score, price asc, trust desc).
func Discover(candidates []struct {
	GPU  GPU
	Node Node
}, c DiscoveryCriteria, maxResults int) []ScoredGPU {
	scored := make([]ScoredGPU, 0, len(candidates))
	for _, cand := range candidates {
		if !passesHardFilters(cand.GPU, cand.Node, c) {
			continue
		}
		scored = append(scored, ScoredGPU{
			GPU:                  cand.GPU,
			Node:                 cand.Node,
			Score:                score(cand.GPU, cand.Node, c),
			EstimatedWaitSeconds: estimatedWaitSeconds(len(cand.GPU.CurrentJobs)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].GPU.PriceUSDPerHour != scored[j].GPU.PriceUSDPerHour {
			return scored[i].GPU.PriceUSDPerHour < scored[j].GPU.PriceUSDPerHour
		}
		return scored[i].Node.Trust > scored[j].Node.Trust
	})

	if maxResults <= 0 {
		maxResults = 20
	}
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored
}

// applyStrategy re-ranks an already-scored, already-filtered candidate set
// for the given strategy.
func applyStrategy(scored []ScoredGPU, strategy RoutingStrategy) []ScoredGPU {
	ranked := make([]ScoredGPU, len(scored))
	copy(ranked, scored)

	switch strategy {
	case StrategyCheapest:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].GPU.PriceUSDPerHour < ranked[j].GPU.PriceUSDPerHour
		})
	case StrategyFastest:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].EstimatedWaitSeconds < ranked[j].EstimatedWaitSeconds
		})
	case StrategyHighestTrust:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Node.Trust > ranked[j].Node.Trust
		})
	case StrategyInstitutional:
		sort.SliceStable(ranked, func(i, j int) bool {
			return tierPreferenceOrder(ranked[i].Node.Tier) < tierPreferenceOrder(ranked[j].Node.Tier)
		})
	default: // StrategyBalanced and unset: keep the composite score ordering.
	}
	return ranked
}

// tierPreferenceOrder ranks BACKBONE < CAMPUS < EDGE for the INSTITUTIONAL
// strategy.
func tierPreferenceOrder(tier SupplyTier) int {
	switch tier {
	case TierBackbone:
		return 0
	case TierCampus:
		return 1
	default:
		return 2
	}
}
