package location

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gosom/courier-routes/models"
)

// Precision ranks. Lower is more precise.
const (
	RankExact          = 0
	RankPlaceMarker    = 1
	RankInternalMarker = 2
	RankSearchPath     = 3
	RankQueryParam     = 4
	RankViewportZoom   = 5
	RankViewport       = 6
	RankGeocoded       = 7

	RankPlaceDetails = RankPlaceMarker
	RankPlusCode     = RankQueryParam
)

const number = `([+-]?\d{1,3}(?:\.\d+)?)`

type matcher func(decoded, raw string) [][]string

type rule struct {
	label    string
	rank     int
	lngFirst bool
	match    matcher
}

// rules is ordered most specific first. Extract returns the first rule that
// yields an in-range pair, which makes the order the precision order.
var rules = []rule{
	{label: "place marker", rank: RankPlaceMarker, match: pattern(`!3d` + number + `!4d` + number)},
	{label: "internal marker", rank: RankInternalMarker, lngFirst: true, match: pattern(`!2d` + number + `!3d` + number)},
	{label: "directions marker", rank: RankInternalMarker, lngFirst: true, match: pattern(`!1d` + number + `!2d` + number)},
	{label: "search path", rank: RankSearchPath, match: pattern(`/maps/search/` + number + `,[\s+]*` + number)},
	{label: "query parameter", rank: RankQueryParam, match: queryParam("q", "ll", "center", "query", "destination")},
	{label: "marker parameters", rank: RankQueryParam, match: queryPair("mlat", "mlon")},
	{label: "viewport with zoom", rank: RankViewportZoom, match: pattern(`@` + number + `,` + number + `,\d+(?:\.\d+)?z`)},
	{label: "viewport", rank: RankViewport, match: pattern(`@` + number + `,` + number)},
}

var paramPairPattern = regexp.MustCompile(`^\s*` + number + `\s*,\s*` + number + `\s*$`)

func pattern(expr string) matcher {
	re := regexp.MustCompile(expr)

	return func(decoded, _ string) [][]string {
		return re.FindAllStringSubmatch(decoded, -1)
	}
}

func queryParam(keys ...string) matcher {
	return func(_, raw string) [][]string {
		u, err := url.Parse(raw)
		if err != nil {
			return nil
		}

		q := u.Query()

		var ans [][]string

		for _, k := range keys {
			for _, v := range q[k] {
				if m := paramPairPattern.FindStringSubmatch(v); m != nil {
					ans = append(ans, m)
				}
			}
		}

		return ans
	}
}

// queryPair matches a latitude and a longitude carried in separate query
// parameters.
func queryPair(latKey, lngKey string) matcher {
	return func(_, raw string) [][]string {
		u, err := url.Parse(raw)
		if err != nil {
			return nil
		}

		q := u.Query()

		lat, lng := strings.TrimSpace(q.Get(latKey)), strings.TrimSpace(q.Get(lngKey))
		if lat == "" || lng == "" {
			return nil
		}

		return [][]string{{"", lat, lng}}
	}
}

// Extract recovers a coordinate pair from a map URL together with the
// precision rank of the rule that matched. Matches outside the valid range
// are skipped.
func Extract(rawURL string) (models.Coordinates, int, bool) {
	c, r, ok := extract(rawURL)
	if !ok {
		return models.Coordinates{}, 0, false
	}

	return c, r.rank, true
}

func extract(rawURL string) (models.Coordinates, rule, bool) {
	decoded, err := url.PathUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}

	raw := strings.TrimSpace(rawURL)

	for _, r := range rules {
		for _, m := range r.match(decoded, raw) {
			a, b := m[1], m[2]
			if r.lngFirst {
				a, b = b, a
			}

			if c, ok := parsePair(a, b); ok {
				return c, r, true
			}
		}
	}

	return models.Coordinates{}, rule{}, false
}
