package models

// Market is a point of sale the user may travel to
type Market struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Location Coordinate `json:"location"`
}

// RankedMarket is a market annotated with its resolved route.
// Error is set instead of Route when the route could not be resolved.
type RankedMarket struct {
	Market
	Route *RouteResult `json:"route,omitempty"`
	Error string       `json:"error,omitempty"`
}
