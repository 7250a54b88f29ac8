package policy

import "time"

func contains(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsWeekday(set []time.Weekday, v time.Weekday) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (c SubjectConditions) matches(req AuthorizationRequest) bool {
	if c.MinClearance > 0 && req.Clearance < c.MinClearance {
		return false
	}
	if c.MinTrust > 0 && req.Trust < c.MinTrust {
		return false
	}
	if c.MaxTrust > 0 && req.Trust > c.MaxTrust {
		return false
	}
	if c.RequireInstitution && req.InstitutionID == "" {
		return false
	}
	if !contains(c.SubjectTypes, req.SubjectType) {
		return false
	}
	if len(c.InstitutionIDs) > 0 && !contains(c.InstitutionIDs, req.InstitutionID) {
		return false
	}
	if len(c.OrgIDs) > 0 && !contains(c.OrgIDs, req.OrgID) {
		return false
	}
	if len(c.SubjectIDs) > 0 && !contains(c.SubjectIDs, req.SubjectID) {
		return false
	}
	return true
}

func (c ResourceConditions) matches(req AuthorizationRequest) bool {
	r := req.Resource
	if c.MinVRAMGB > 0 && r.VRAMGB < c.MinVRAMGB {
		return false
	}
	if c.MaxVRAMGB > 0 && r.VRAMGB > c.MaxVRAMGB {
		return false
	}
	if !contains(c.GPUTiers, r.GPUTier) {
		return false
	}
	if len(c.Regions) > 0 && !contains(c.Regions, r.Region) {
		return false
	}
	if len(c.Campuses) > 0 && !contains(c.Campuses, r.CampusID) {
		return false
	}
	if c.MaxGPUCount > 0 && r.GPUCount > c.MaxGPUCount {
		return false
	}
	if c.MaxDurationHours > 0 && r.DurationHours > c.MaxDurationHours {
		return false
	}
	if !contains(c.WorkloadTypes, r.WorkloadType) {
		return false
	}
	return true
}

func (c FinancialConditions) matches(req AuthorizationRequest) bool {
	if c.MaxSpendPerHour > 0 && req.Resource.EstimatedCost > c.MaxSpendPerHour {
		return false
	}
	if c.MaxSpendPerMonth > 0 && req.Risk.MonthlySpend > c.MaxSpendPerMonth {
		return false
	}
	return true
}

func (c RiskConditions) matches(req AuthorizationRequest) bool {
	if c.MaxRiskScore > 0 && req.Risk.CurrentRiskScore > c.MaxRiskScore {
		return false
	}
	if c.MinRiskScore > 0 && req.Risk.CurrentRiskScore < c.MinRiskScore {
		return false
	}
	return true
}

func blackoutActive(req AuthorizationRequest, t time.Time, blackouts []Blackout) bool {
	for _, b := range blackouts {
		if b.InstitutionID != "" && b.InstitutionID != req.InstitutionID {
			continue
		}
		if t.Before(b.Start) || !t.Before(b.End) {
			continue
		}
		if b.MinVRAMGB > 0 && req.Resource.VRAMGB < b.MinVRAMGB {
			continue
		}
		return true
	}
	return false
}

func (c TimeConditions) matches(req AuthorizationRequest) bool {
	t := req.RequestTime.UTC()

	if c.RequireBlackout {
		return blackoutActive(req, t, c.Blackouts)
	}

	if !containsWeekday(c.DaysOfWeek, t.Weekday()) {
		return false
	}
	if len(c.Windows) > 0 {
		hour := t.Hour()
		matched := false
		for _, w := range c.Windows {
			if w.contains(hour) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if blackoutActive(req, t, c.Blackouts) {
		return false
	}
	return true
}

// matches reports whether every condition category holds for req — all
// must match for the rule to apply.
func (c Conditions) matches(req AuthorizationRequest) bool {
	return c.Subject.matches(req) &&
		c.Resource.matches(req) &&
		c.Financial.matches(req) &&
		c.Risk.matches(req) &&
		c.Time.matches(req)
}
