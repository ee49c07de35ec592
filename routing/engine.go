// Package routing maps accepted vehicle classifications to delivery
// routing decisions via a per-class rule table.
package routing

import (
	"fmt"

	"github.com/sconeworks/dispatchml/config"
	"github.com/sconeworks/dispatchml/policy"
	"github.com/sconeworks/dispatchml/types"
)

// Rule is the decision template for one vehicle class.
type Rule struct {
	RouteType     types.RouteType
	MaxDistanceKm float64
	MaxWeightKg   float64
	Priority      types.Priority
	EcoFriendly   bool
	// PriorityConfidence is the escalation threshold, stricter than and
	// separate from the acceptance threshold. Eco-priority classes get
	// HIGH priority at or above it.
	PriorityConfidence float64
	// ManualReviewFallback sends the class to MANUAL_REVIEW below the
	// escalation threshold instead of keeping its configured route.
	ManualReviewFallback bool
	SpecialInstructions  string
}

// Engine routes accepted classifications. The rule table is validated
// for totality over the threshold policy at construction; an unmapped
// class can never surface at decision time.
type Engine struct {
	rules map[string]Rule
}

// NewEngine builds an Engine, failing with CONFIGURATION_ERROR if any
// class in the threshold policy lacks a rule.
func NewEngine(rules map[string]Rule, thresholds policy.ThresholdPolicy) (*Engine, error) {
	for _, class := range thresholds.Classes() {
		if _, ok := rules[class]; !ok {
			return nil, types.NewError(types.ErrConfigurationError,
				fmt.Sprintf("routing table missing rule for class %q", class))
		}
	}
	// Copy so later mutation of the caller's map cannot change routing.
	owned := make(map[string]Rule, len(rules))
	for class, rule := range rules {
		owned[class] = rule
	}
	return &Engine{rules: owned}, nil
}

// FromConfig converts the configured rule table.
func FromConfig(cfg map[string]config.RuleConfig) map[string]Rule {
	rules := make(map[string]Rule, len(cfg))
	for class, rc := range cfg {
		rules[class] = Rule{
			RouteType:            types.RouteType(rc.RouteType),
			MaxDistanceKm:        rc.MaxDistanceKm,
			MaxWeightKg:          rc.MaxWeightKg,
			Priority:             types.Priority(rc.Priority),
			EcoFriendly:          rc.EcoFriendly,
			PriorityConfidence:   rc.PriorityConfidence,
			ManualReviewFallback: rc.ManualReviewFallback,
			SpecialInstructions:  rc.SpecialInstructions,
		}
	}
	return rules
}

// Route derives the routing decision for an accepted classification.
// Deterministic: same class and confidence always yield the same
// decision.
func (e *Engine) Route(vehicleClass string, confidence float64) (types.RoutingDecision, error) {
	rule, ok := e.rules[vehicleClass]
	if !ok {
		// Unreachable when the engine guards a filter using the same
		// policy; kept as a hard error for direct callers.
		return types.RoutingDecision{}, types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("no routing rule for class %q", vehicleClass))
	}

	decision := types.RoutingDecision{
		VehicleClass:        vehicleClass,
		RouteType:           rule.RouteType,
		MaxDistanceKm:       rule.MaxDistanceKm,
		MaxWeightKg:         rule.MaxWeightKg,
		Priority:            rule.Priority,
		EcoFriendly:         rule.EcoFriendly,
		SpecialInstructions: rule.SpecialInstructions,
	}

	if confidence >= rule.PriorityConfidence {
		if rule.EcoFriendly {
			// Two-threshold design: acceptance got the item here,
			// escalation upgrades eco classes to HIGH priority.
			decision.Priority = types.PriorityHigh
		}
	} else if rule.ManualReviewFallback {
		decision.RouteType = types.RouteManualReview
		decision.Priority = types.PriorityNormal
	}

	return decision, nil
}
