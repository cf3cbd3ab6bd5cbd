package models

// ValidateReferenceRequest is the body of the reference validation endpoint.
type ValidateReferenceRequest struct {
	Reference string `json:"reference" validate:"required,max=4096"`
}

type ValidateReferenceResponse struct {
	Valid       bool   `json:"valid"`
	Coordinates string `json:"coordinates,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Kind        string `json:"kind"`
	ResolvedVia string `json:"resolved_via,omitempty"`
}

// RouteRequest is the body of the shortest route endpoint.
type RouteRequest struct {
	Origin      string `json:"origin" validate:"required,max=4096"`
	Destination string `json:"destination" validate:"required,max=4096"`
}

// WarmRouteRequest asks a worker to precompute the route of a registered order.
type WarmRouteRequest struct {
	OrderID     string `json:"order_id" validate:"required,max=128"`
	Origin      string `json:"origin" validate:"required,max=4096"`
	Destination string `json:"destination" validate:"required,max=4096"`
}

type DistanceDTO struct {
	Text        string  `json:"text"`
	ValueMeters int     `json:"value_meters"`
	Km          float64 `json:"km"`
}

type DurationDTO struct {
	Text         string `json:"text"`
	ValueSeconds int    `json:"value_seconds"`
}

type RouteResponse struct {
	Status             Code         `json:"status"`
	Message            string       `json:"message,omitempty"`
	Distance           *DistanceDTO `json:"distance,omitempty"`
	Duration           *DurationDTO `json:"duration,omitempty"`
	OriginAddress      string       `json:"origin_address,omitempty"`
	DestinationAddress string       `json:"destination_address,omitempty"`
	Source             Source       `json:"source,omitempty"`
}

// NewRouteResponse converts a RouteResult for the wire. This is the only
// place meters become kilometers.
func NewRouteResponse(r RouteResult) RouteResponse {
	return RouteResponse{
		Status: CodeOK,
		Distance: &DistanceDTO{
			Text:        r.DistanceText,
			ValueMeters: r.DistanceMeters,
			Km:          float64(r.DistanceMeters) / 1000,
		},
		Duration: &DurationDTO{
			Text:         r.DurationText,
			ValueSeconds: r.DurationSeconds,
		},
		OriginAddress:      r.OriginAddress,
		DestinationAddress: r.DestinationAddress,
		Source:             r.Source,
	}
}

// NewRouteFailure converts a classified error for the wire.
func NewRouteFailure(err error) RouteResponse {
	return RouteResponse{
		Status:  CodeOf(err),
		Message: MessageOf(err),
	}
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type WarmRouteResponse struct {
	TaskID string `json:"task_id"`
}

// HealthResponse reports the process and the state of each dependency.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
