package models

import (
	"strconv"
)

// Kind is the classification assigned to a raw location reference.
type Kind int

const (
	KindUnresolvable Kind = iota
	KindCoordinates
	KindShortLink
	KindLongLinkWithCoords
	KindLongLinkPlaceOnly
	KindFreeText
)

func (k Kind) String() string {
	switch k {
	case KindCoordinates:
		return "coordinates"
	case KindShortLink:
		return "short_link"
	case KindLongLinkWithCoords:
		return "long_link_with_coords"
	case KindLongLinkPlaceOnly:
		return "long_link_place_only"
	case KindFreeText:
		return "free_text"
	default:
		return "unresolvable"
	}
}

// Reference is a classified, user supplied location reference.
// Raw is kept exactly as received; Normalized is what cache keys are built from.
type Reference struct {
	Raw        string
	Normalized string
	Kind       Kind
}

// Via records which strategy produced a Resolved value.
type Via int

const (
	ViaDirectExtraction Via = iota + 1
	ViaExpandedLinkExtraction
	ViaPlaceIDGeocode
	ViaCIDDecode
	ViaTextGeocode
	ViaOriginalLinkPassthrough
	ViaPlusCodeDecode
)

func (v Via) String() string {
	switch v {
	case ViaDirectExtraction:
		return "direct_extraction"
	case ViaExpandedLinkExtraction:
		return "expanded_link_extraction"
	case ViaPlaceIDGeocode:
		return "place_id_geocode"
	case ViaCIDDecode:
		return "cid_decode"
	case ViaTextGeocode:
		return "text_geocode"
	case ViaOriginalLinkPassthrough:
		return "original_link_passthrough"
	case ViaPlusCodeDecode:
		return "plus_code_decode"
	default:
		return "unknown"
	}
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the WGS84 range.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// String formats the point as "lat,lng", the form the provider accepts.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// RankUnranked is the precision rank of values that carry no point.
const RankUnranked = 99

// Resolved is the outcome of resolving a Reference. Exactly one of Point or
// Routable is set.
type Resolved struct {
	Point         *Coordinates `json:"point,omitempty"`
	Routable      string       `json:"routable,omitempty"`
	PrecisionRank int          `json:"precision_rank"`
	Via           Via          `json:"via"`
}

// NewPoint builds a Resolved carrying coordinates.
func NewPoint(c Coordinates, rank int, via Via) Resolved {
	return Resolved{Point: &c, PrecisionRank: rank, Via: via}
}

// NewRoutable builds a Resolved carrying an opaque string the provider may
// still be able to route.
func NewRoutable(value string, via Via) Resolved {
	return Resolved{Routable: value, PrecisionRank: RankUnranked, Via: via}
}

// IsPoint reports whether the value is a precise coordinate pair.
func (r Resolved) IsPoint() bool {
	return r.Point != nil
}

// IsZero reports whether neither representation is set.
func (r Resolved) IsZero() bool {
	return r.Point == nil && r.Routable == ""
}

// Value is the string submitted to the provider for this location.
func (r Resolved) Value() string {
	if r.Point != nil {
		return r.Point.String()
	}

	return r.Routable
}
