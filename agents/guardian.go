package agents

import (
	"context"
	"slices"
	"strings"

	"github.com/rxtrust/rxtrust-api/types"
)

// IngredientSource supplies the ingredient list for a product.
type IngredientSource interface {
	Ingredients(ctx context.Context, req types.AuditRequest) ([]string, error)
}

// SimulatedIngredients stands in for a real formulation lookup: the product
// name itself plus sucrose. It is not formulation data.
type SimulatedIngredients struct{}

func (SimulatedIngredients) Ingredients(_ context.Context, req types.AuditRequest) ([]string, error) {
	return []string{strings.ToLower(req.ProductName), "sucrose"}, nil
}

const (
	diabetesFlag = "Contains sugar-based excipients that may destabilize blood glucose."
	liverFlag    = "Contains ingredients requiring liver-function caution."

	diabetesDelta = 25
	liverDelta    = 20
	allergenDelta = 35
)

var (
	sugarExcipients  = []string{"sucrose", "fructose", "sorbitol"}
	liverIngredients = []string{"acetaminophen"}
)

// Guardian applies static patient-profile rules to a product's ingredients.
type Guardian struct {
	ingredients IngredientSource
}

// NewGuardian uses SimulatedIngredients when source is nil.
func NewGuardian(source IngredientSource) *Guardian {
	if source == nil {
		source = SimulatedIngredients{}
	}
	return &Guardian{ingredients: source}
}

func (g *Guardian) Adjust(ctx context.Context, req types.AuditRequest) (types.GuardianResult, error) {
	ingredients, err := g.ingredients.Ingredients(ctx, req)
	if err != nil {
		return types.GuardianResult{}, err
	}

	result := types.GuardianResult{PersonalizedFlags: []string{}}
	profile := req.GuardianProfile

	if profile.Diabetes && intersects(ingredients, sugarExcipients) {
		result.PersonalizedFlags = append(result.PersonalizedFlags, diabetesFlag)
		result.PersonalizedRiskDelta += diabetesDelta
	}
	if profile.LiverIssues && intersects(ingredients, liverIngredients) {
		result.PersonalizedFlags = append(result.PersonalizedFlags, liverFlag)
		result.PersonalizedRiskDelta += liverDelta
	}
	for _, allergen := range profile.Allergies {
		if slices.Contains(ingredients, strings.ToLower(allergen)) {
			result.PersonalizedFlags = append(result.PersonalizedFlags, "Potential allergen match: "+allergen)
			result.PersonalizedRiskDelta += allergenDelta
		}
	}
	return result, nil
}

func intersects(ingredients, risky []string) bool {
	for _, r := range risky {
		if slices.Contains(ingredients, r) {
			return true
		}
	}
	return false
}
