package location

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

// PlaceIDPrefix is the form the provider accepts place identifiers in when
// they are passed as an origin or destination.
const PlaceIDPrefix = "place_id:"

// ErrUnsupportedIdentifier is returned for internal identifiers that are not
// a pair of 64 bit hex numbers.
var ErrUnsupportedIdentifier = errors.New("unsupported place identifier shape")

var (
	// dataIDPattern matches the internal identifier of place URLs, for
	// example !1s0x80858098babc2d4b:0xbeedd659cc698c92 or
	// ftid=0x80858098babc2d4b:0xbeedd659cc698c92.
	dataIDPattern  = regexp.MustCompile(`(?i)(?:!1s|ftid=)(0x[0-9a-f]+(?::0x[0-9a-f]+)*)`)
	placeIDPattern = regexp.MustCompile(`!19s(ChIJ[0-9A-Za-z_-]+)`)
	placeNameRule  = regexp.MustCompile(`/maps/(?:place|search)/([^/@?]+)`)
)

// PlaceDetailer looks up the location of a public place identifier.
type PlaceDetailer interface {
	PlaceDetails(ctx context.Context, placeID string) (models.Coordinates, error)
}

// ExtractDataID returns the internal identifier of a place URL or an empty
// string.
func ExtractDataID(rawURL string) string {
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}

	m := dataIDPattern.FindStringSubmatch(decoded)
	if m == nil {
		return ""
	}

	return m[1]
}

// DecodeCID turns an internal identifier into the numeric customer id it
// carries. Only the two part "0x<hex>:0x<hex>" shape is understood; the
// customer id is the second part.
func DecodeCID(dataID string) (uint64, error) {
	parts := strings.Split(strings.ToLower(dataID), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %d parts in %q", ErrUnsupportedIdentifier, len(parts), dataID)
	}

	for _, p := range parts {
		digits := strings.TrimPrefix(p, "0x")
		if digits == p || digits == "" || len(digits) > 16 {
			return 0, fmt.Errorf("%w: %q", ErrUnsupportedIdentifier, dataID)
		}
	}

	cid, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 64)
	if err != nil || cid == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedIdentifier, dataID)
	}

	return cid, nil
}

// ExtractPlaceID returns a public place identifier found in the URL, if any.
func ExtractPlaceID(rawURL string) string {
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}

	if m := placeIDPattern.FindStringSubmatch(decoded); m != nil {
		return m[1]
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	q := u.Query()

	for _, k := range []string{"place_id", "query_place_id"} {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}

	return ""
}

// PlaceName returns the human readable place name segment of a map URL, for
// example "Plaza 14 de Septiembre" for /maps/place/Plaza+14+de+Septiembre/.
// Plain text q and query parameters count as well.
func PlaceName(rawURL string) string {
	if m := placeNameRule.FindStringSubmatch(rawURL); m != nil {
		if name := decodeSegment(m[1]); name != "" && !isCoordinatePair(name) {
			return name
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	q := u.Query()

	for _, k := range []string{"q", "query"} {
		v := strings.TrimSpace(q.Get(k))
		if v == "" || isCoordinatePair(v) || strings.HasPrefix(v, PlaceIDPrefix) {
			continue
		}

		return v
	}

	return ""
}

func decodeSegment(seg string) string {
	s, err := url.PathUnescape(strings.ReplaceAll(seg, "+", " "))
	if err != nil {
		s = strings.ReplaceAll(seg, "+", " ")
	}

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// PlaceResolver resolves the place identifiers embedded in map URLs.
type PlaceResolver struct {
	details PlaceDetailer
	logger  *zap.Logger
}

func NewPlaceResolver(details PlaceDetailer, logger *zap.Logger) *PlaceResolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PlaceResolver{
		details: details,
		logger:  logger.Named("place"),
	}
}

// Resolve looks for an internal identifier first and a public place id
// second. A failed place details lookup degrades to a routable place id.
// Only transport failures, an exhausted call budget and cancellation are
// returned as errors.
func (p *PlaceResolver) Resolve(ctx context.Context, rawURL string) (models.Resolved, bool, error) {
	if dataID := ExtractDataID(rawURL); dataID != "" {
		cid, err := DecodeCID(dataID)
		if err == nil {
			return models.NewRoutable(PlaceIDPrefix+strconv.FormatUint(cid, 10), models.ViaCIDDecode), true, nil
		}

		p.logger.Debug("skipping internal identifier", zap.String("data_id", dataID), zap.Error(err))
	}

	placeID := ExtractPlaceID(rawURL)
	if placeID == "" {
		return models.Resolved{}, false, nil
	}

	if p.details != nil {
		c, err := p.details.PlaceDetails(ctx, placeID)

		switch {
		case err == nil && c.Valid():
			return models.NewPoint(c, RankPlaceDetails, models.ViaPlaceIDGeocode), true, nil
		case err != nil && fatal(ctx, err):
			return models.Resolved{}, false, err
		case err != nil:
			p.logger.Debug("place details failed", zap.String("place_id", placeID), zap.Error(err))
		}
	}

	return models.NewRoutable(PlaceIDPrefix+placeID, models.ViaPlaceIDGeocode), true, nil
}

// fatal reports whether err must stop the resolution instead of degrading
// to the next strategy.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, provider.ErrBudgetExhausted) ||
		errors.Is(err, models.ErrNoConnectivity)
}
