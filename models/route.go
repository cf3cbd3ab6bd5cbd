package models

// Source is the upstream call a RouteResult came from.
type Source string

const (
	SourceRouting Source = "Routing"
	SourceMatrix  Source = "Matrix"
)

// RouteResult holds the shortest driving route between two references.
// Distances are meters as reported by the provider.
type RouteResult struct {
	DistanceMeters     int    `json:"distance_meters"`
	DistanceText       string `json:"distance_text"`
	DurationSeconds    int    `json:"duration_seconds"`
	DurationText       string `json:"duration_text"`
	Source             Source `json:"source"`
	OriginAddress      string `json:"origin_address"`
	DestinationAddress string `json:"destination_address"`
}

// RouteCandidate is one alternative returned by the routing call.
type RouteCandidate struct {
	DistanceMeters  int
	DistanceText    string
	DurationSeconds int
	DurationText    string
	StartAddress    string
	EndAddress      string
}

// MatrixElement is the single origin/destination cell of a matrix call.
type MatrixElement struct {
	Status             string
	DistanceMeters     int
	DistanceText       string
	DurationSeconds    int
	DurationText       string
	HasDistance        bool
	OriginAddress      string
	DestinationAddress string
}
