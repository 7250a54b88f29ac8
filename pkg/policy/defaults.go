package policy

import "time"

var operationalActions = []ActionType{
	ActionJobSubmit, ActionJobCancel, ActionGPUAllocate, ActionGPUPreempt,
	ActionDataRead, ActionDataWrite, ActionDataTrain, ActionDataExport,
	ActionBenchmarkRun, ActionTunnelOpen, ActionMarketplaceList,
}

var adminActions = []ActionType{
	ActionPolicyUpdate, ActionSubjectBan, ActionInstitutionManage, ActionDisputeResolve,
}

var payoutActions = []ActionType{ActionPayoutRequest, ActionRefundIssue}

// PlatformBaselinePolicy is the default PLATFORM-scope policy shipped with
// the system.
func PlatformBaselinePolicy() Policy {
	return Policy{
		PolicyID:        "platform-baseline",
		Scope:           ScopePlatform,
		DefaultDecision: DecisionDeny,
		Version:         1,
		UpdatedAt:       time.Time{},
		Rules: []Rule{
			{
				RuleID:       "step-up-high-risk",
				Priority:     1,
				Decision:     DecisionStepUp,
				StepUpMethod: "MFA_REAUTH",
				Description:  "Tutela risk above 70 requires MFA re-authentication",
				Active:       true,
				Conditions:   Conditions{Risk: RiskConditions{MinRiskScore: 71}},
			},
			{
				RuleID:      "admin-actions",
				Priority:    10,
				ActionTypes: adminActions,
				Decision:    DecisionAllow,
				Description: "Admin-clearance actions",
				Active:      true,
				Conditions:  Conditions{Subject: SubjectConditions{MinClearance: ClearanceAdmin}},
			},
			{
				RuleID:      "payout-requires-trust",
				Priority:    15,
				ActionTypes: payoutActions,
				Decision:    DecisionAllow,
				Description: "Payout and refund actions require trust >= 61",
				Active:      true,
				Conditions:  Conditions{Subject: SubjectConditions{MinTrust: 61}},
			},
			{
				RuleID:      "high-clearance-backbone-access",
				Priority:    20,
				ActionTypes: operationalActions,
				Decision:    DecisionAllow,
				Description: "HIGH_CLEARANCE backbone access",
				Active:      true,
				Conditions: Conditions{Subject: SubjectConditions{
					MinTrust: 81, RequireInstitution: true,
				}},
			},
			{
				RuleID:      "trusted-band",
				Priority:    30,
				ActionTypes: operationalActions,
				Decision:    DecisionAllowLimited,
				Description: "TRUSTED band allocation limits",
				Active:      true,
				Conditions:  Conditions{Subject: SubjectConditions{MinTrust: 61, MaxTrust: 80}},
				Constraints: &Constraints{MaxVRAMGB: 80, MaxGPUs: 4, MaxDurationHours: 72},
			},
			{
				RuleID:      "standard-band",
				Priority:    40,
				ActionTypes: operationalActions,
				Decision:    DecisionAllowLimited,
				Description: "STANDARD band allocation limits",
				Active:      true,
				Conditions:  Conditions{Subject: SubjectConditions{MinTrust: 31, MaxTrust: 60}},
				Constraints: &Constraints{MaxVRAMGB: 24, MaxGPUs: 2, MaxDurationHours: 24},
			},
			{
				RuleID:      "restricted-band",
				Priority:    50,
				ActionTypes: operationalActions,
				Decision:    DecisionAllowLimited,
				Description: "RESTRICTED band allocation limits",
				Active:      true,
				Conditions:  Conditions{Subject: SubjectConditions{MaxTrust: 30}},
				Constraints: &Constraints{
					MaxVRAMGB: 8, MaxGPUs: 1, MaxDurationHours: 2, MaxPowerWatts: 150,
					NetworkRestricted: true, WorkloadTypesAllowed: []string{"INFERENCE"},
				},
			},
		},
	}
}

// UniversityTemplatePolicy is the optional per-institution INSTITUTION-scope
// overlay: blackout windows deny heavy compute, and student allocations are
// halved during business hours.
func UniversityTemplatePolicy(institutionID string, blackouts []Blackout) Policy {
	businessHours := []TimeWindow{{StartHour: 9, EndHour: 17}}
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	return Policy{
		PolicyID:        "university-template-" + institutionID,
		Scope:           ScopeInstitution,
		ScopeID:         institutionID,
		DefaultDecision: DecisionDeny,
		Version:         1,
		Rules: []Rule{
			{
				RuleID:      "blackout-deny-heavy-compute",
				Priority:    1,
				ActionTypes: operationalActions,
				Decision:    DecisionDeny,
				Description: "Blackout window denies heavy compute allocations",
				Active:      true,
				Conditions:  Conditions{Time: TimeConditions{Blackouts: blackouts, RequireBlackout: true}},
			},
			{
				RuleID:      "student-business-hours-half-limits",
				Priority:    10,
				ActionTypes: operationalActions,
				Decision:    DecisionAllowLimited,
				Description: "Students get half allocation during business hours",
				Active:      true,
				Conditions: Conditions{
					Subject: SubjectConditions{SubjectTypes: []string{"STUDENT"}},
					Time:    TimeConditions{DaysOfWeek: weekdays, Windows: businessHours},
				},
				Constraints: &Constraints{MaxVRAMGB: 12, MaxGPUs: 1, MaxDurationHours: 12},
			},
			{
				RuleID:      "student-off-hours-full-allocation",
				Priority:    20,
				ActionTypes: operationalActions,
				Decision:    DecisionAllow,
				Description: "Students get full institutional allocation off-hours",
				Active:      true,
				Conditions: Conditions{
					Subject: SubjectConditions{SubjectTypes: []string{"STUDENT"}},
				},
			},
			{
				RuleID:      "faculty-researcher-full-allocation",
				Priority:    30,
				ActionTypes: operationalActions,
				Decision:    DecisionAllow,
				Description: "Faculty and researchers get full institutional allocation",
				Active:      true,
				Conditions: Conditions{
					Subject: SubjectConditions{SubjectTypes: []string{"FACULTY", "RESEARCHER"}},
				},
			},
		},
	}
}
