package agents

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rxtrust/rxtrust-api/types"
)

// Reasoner turns an investigation into a risk score. HeuristicReasoner is the
// local implementation; a language-model chain can replace it behind this
// interface.
type Reasoner interface {
	Reason(ctx context.Context, req types.AuditRequest, inv types.InvestigationResult) (types.ReasoningResult, error)
}

type riskTerm struct {
	term   string
	weight int
}

// Iteration order is fixed so the score never depends on map ordering.
var riskTerms = []riskTerm{
	{"recall", 40},
	{"nsq", 35},
	{"failed", 30},
	{"counterfeit", 55},
}

const (
	baseRisk          = 10
	registryRiskFloor = 90
	longManufacturer  = 6

	minProbability = 0.01
	maxProbability = 0.99
)

const baselineRationale = "Risk score is derived from regulatory risk terms, known NSQ exact-batch matches, " +
	"and a manufacturer compliance prior. This is a deterministic placeholder for a future " +
	"language-model reasoning stage that will interpret the underlying regulatory reports."

// HeuristicReasoner scores by keyword weights, registry hits and a
// manufacturer-name bias.
type HeuristicReasoner struct{}

func (HeuristicReasoner) Reason(_ context.Context, req types.AuditRequest, inv types.InvestigationResult) (types.ReasoningResult, error) {
	parts := make([]string, 0, len(inv.Results)+1)
	parts = append(parts, inv.SearchQuery)
	for _, item := range inv.Results {
		parts = append(parts, item.Title)
	}
	corpus := strings.ToLower(strings.Join(parts, " "))

	risk := baseRisk
	for _, rt := range riskTerms {
		if strings.Contains(corpus, rt.term) {
			risk += rt.weight
		}
	}

	if inv.NSQMatch != nil {
		risk = max(risk, registryRiskFloor)
	}

	bias := 0.8
	if utf8.RuneCountInString(req.Manufacturer) > longManufacturer {
		bias = 0.65
	}
	score := min(100, max(0, int(float64(risk)*(1.0-(bias-0.5)))))
	probability := max(minProbability, min(maxProbability, 1-float64(score)/100))

	rationale := baselineRationale
	if inv.NSQMatch != nil {
		rationale += " Exact match found in CDSCO NSQ data: " + inv.NSQMatch.Issue + "."
	}

	return types.ReasoningResult{
		RiskScore:             score,
		Rationale:             rationale,
		ComplianceProbability: probability,
	}, nil
}
