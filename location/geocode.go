package location

import (
	"context"
	"errors"
	"regexp"
	"strings"

	olc "github.com/google/open-location-code/go"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

const DefaultQualifier = "Cochabamba, Bolivia"

var (
	// DefaultRegionHints are substrings that mark text as already scoped to
	// the service region.
	DefaultRegionHints = []string{"cochabamba", "bolivia", "quillacollo", "sacaba"}

	// DefaultRegionCenter is used to recover short plus codes.
	DefaultRegionCenter = models.Coordinates{Lat: -17.3895, Lng: -66.1568}
)

var plusCodePattern = regexp.MustCompile(`(?i)\b[23456789CFGHJMPQRVWX]{2,8}\+[23456789CFGHJMPQRVWX]{0,3}`)

// GeocodeAPI is the provider geocoding call.
type GeocodeAPI interface {
	Geocode(ctx context.Context, address string) ([]models.Coordinates, error)
}

type GeocoderConfig struct {
	Qualifier    string
	RegionHints  []string
	RegionCenter *models.Coordinates
}

// Geocoder is the last resort conversion of free text into coordinates.
type Geocoder struct {
	api       GeocodeAPI
	qualifier string
	hints     []string
	center    models.Coordinates
	logger    *zap.Logger
}

func NewGeocoder(api GeocodeAPI, cfg GeocoderConfig, logger *zap.Logger) *Geocoder {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Geocoder{
		api:       api,
		qualifier: cfg.Qualifier,
		hints:     cfg.RegionHints,
		center:    DefaultRegionCenter,
		logger:    logger.Named("geocoder"),
	}

	if g.qualifier == "" {
		g.qualifier = DefaultQualifier
	}

	if len(g.hints) == 0 {
		g.hints = DefaultRegionHints
	}

	if cfg.RegionCenter != nil {
		g.center = *cfg.RegionCenter
	}

	return g
}

// Qualify appends the regional qualifier unless text already looks like a
// full address, is a URL or mentions the region.
func (g *Geocoder) Qualify(text string) string {
	text = strings.TrimSpace(text)

	if LooksLikeURL(text) || strings.Count(text, ",") >= 2 {
		return text
	}

	lower := strings.ToLower(text)
	for _, h := range g.hints {
		if h != "" && strings.Contains(lower, strings.ToLower(h)) {
			return text
		}
	}

	return text + ", " + g.qualifier
}

// Geocode issues a single geocoding call for text. A non OK provider status
// or an empty result is reported as not found. Transport failures, an
// exhausted call budget and cancellation are returned as errors.
func (g *Geocoder) Geocode(ctx context.Context, text string) (models.Coordinates, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" || g.api == nil {
		return models.Coordinates{}, false, nil
	}

	query := g.Qualify(text)

	results, err := g.api.Geocode(ctx, query)
	if err != nil {
		if fatal(ctx, err) {
			return models.Coordinates{}, false, err
		}

		var se *provider.StatusError
		if !errors.As(err, &se) {
			g.logger.Warn("geocode failed", zap.String("query", query), zap.Error(err))
		}

		return models.Coordinates{}, false, nil
	}

	for _, c := range results {
		if c.Valid() {
			return c, true, nil
		}
	}

	return models.Coordinates{}, false, nil
}

// DecodePlusCode decodes the first Open Location Code found in text without
// any network call. Short codes are recovered against the region center.
func (g *Geocoder) DecodePlusCode(text string) (models.Coordinates, bool) {
	code := strings.ToUpper(plusCodePattern.FindString(text))
	if code == "" {
		return models.Coordinates{}, false
	}

	if olc.CheckFull(code) != nil {
		if olc.CheckShort(code) != nil {
			return models.Coordinates{}, false
		}

		recovered, err := olc.RecoverNearest(code, g.center.Lat, g.center.Lng)
		if err != nil {
			return models.Coordinates{}, false
		}

		code = recovered
	}

	area, err := olc.Decode(code)
	if err != nil {
		return models.Coordinates{}, false
	}

	lat, lng := area.Center()

	c := models.Coordinates{Lat: lat, Lng: lng}
	if !c.Valid() {
		return models.Coordinates{}, false
	}

	return c, true
}
