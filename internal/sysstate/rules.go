package sysstate

// Category groups schedule action types by what they ask of the system.
type Category string

const (
	FeatureWork   Category = "feature_work"
	Review        Category = "review"
	Maintenance   Category = "maintenance"
	Communication Category = "communication"
	Lightweight   Category = "lightweight"
)

// actionCategories maps every schedule action type to its category.
var actionCategories = map[string]Category{
	"implement_feature": FeatureWork,
	"fix_bug":           FeatureWork,
	"refactor":          FeatureWork,
	"write_tests":       FeatureWork,

	"review_pr":      Review,
	"triage_issues":  Review,
	"audit_security": Review,

	"update_dependencies": Maintenance,
	"prune_artifacts":     Maintenance,
	"rotate_logs":         Maintenance,
	"backup":              Maintenance,

	"post_standup":  Communication,
	"send_digest":   Communication,
	"notify_oncall": Communication,

	"heartbeat":     Lightweight,
	"collect_stats": Lightweight,
}

// Decision is the outcome of evaluating an action against system state.
type Decision string

const (
	DecisionRun   Decision = "run"
	DecisionSkip  Decision = "skip"
	DecisionBoost Decision = "boost"
)

// Rule lists the categories a state suppresses or promotes.
type Rule struct {
	Skip  []Category
	Boost []Category
}

// stateRules is keyed by active state. healthy intentionally has no entry:
// it contributes neither skips nor boosts.
var stateRules = map[State]Rule{
	StateCIBroken: {
		Skip:  []Category{FeatureWork},
		Boost: []Category{Review, Maintenance},
	},
	StateServerDegraded: {
		Skip:  []Category{FeatureWork, Review, Communication},
		Boost: []Category{Maintenance},
	},
	StateP0Open: {
		Skip:  []Category{FeatureWork, Lightweight},
		Boost: []Category{Review, Communication},
	},
	StateDiskPressure: {
		Skip:  []Category{FeatureWork, Review},
		Boost: []Category{Maintenance},
	},
}

// CategoryOf resolves an action type. Unknown action types are treated as
// lightweight so they never block on system state.
func CategoryOf(actionType string) Category {
	if cat, ok := actionCategories[actionType]; ok {
		return cat
	}
	return Lightweight
}

// EvaluateAction decides whether an action should run. Skip always wins
// over boost when states disagree.
func EvaluateAction(actionType string, states []State) Decision {
	cat := CategoryOf(actionType)

	boosted := false
	for _, state := range states {
		rule, ok := stateRules[state]
		if !ok {
			continue
		}
		for _, skip := range rule.Skip {
			if skip == cat {
				return DecisionSkip
			}
		}
		for _, boost := range rule.Boost {
			if boost == cat {
				boosted = true
			}
		}
	}
	if boosted {
		return DecisionBoost
	}
	return DecisionRun
}
