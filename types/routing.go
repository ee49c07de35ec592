package types

// RouteType categorizes the delivery route assigned to a vehicle class.
type RouteType string

const (
	RouteShortDistance RouteType = "SHORT_DISTANCE"
	RouteStandard      RouteType = "STANDARD"
	RouteHeavyCapacity RouteType = "HEAVY_CAPACITY"
	RouteManualReview  RouteType = "MANUAL_REVIEW"
)

// Priority is the dispatch priority of a routing decision.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// RoutingDecision is the business-rule output for one accepted
// classification. It is a stateless derivation with no stored identity.
type RoutingDecision struct {
	VehicleClass        string    `json:"vehicle_class"`
	RouteType           RouteType `json:"route_type"`
	MaxDistanceKm       float64   `json:"max_distance_km"`
	MaxWeightKg         float64   `json:"max_weight_kg"`
	Priority            Priority  `json:"priority"`
	EcoFriendly         bool      `json:"eco_friendly"`
	SpecialInstructions string    `json:"special_instructions,omitempty"`
}
