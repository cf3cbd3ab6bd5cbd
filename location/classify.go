// Package location turns user supplied location references (coordinate pairs,
// map links, short links and free text) into something the route calculator
// can submit to the mapping provider.
package location

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/gosom/courier-routes/models"
)

const (
	leadingJunk  = `<>()[]{}"'`
	trailingJunk = `<>()[]{}"',;.`
)

var (
	coordinatePairPattern = regexp.MustCompile(`^([+-]?\d{1,2}\.\d+)\s*,\s*([+-]?\d{1,3}\.\d+)$`)
	longHostPattern       = regexp.MustCompile(`(^|[/.])google\.[a-z]{2,3}(\.[a-z]{2})?/maps`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
)

var shortHosts = []string{
	"maps.app.goo.gl",
	"goo.gl/maps",
	"g.co/kgs",
	"g.page",
}

// Normalize strips the characters that copy and paste tends to leave around
// links and collapses internal whitespace. Two references that normalize to
// the same string are the same reference.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)

	for {
		trimmed := strings.TrimLeft(s, leadingJunk)
		trimmed = strings.TrimRight(trimmed, trailingJunk)
		trimmed = strings.TrimSpace(trimmed)

		if trimmed == s {
			break
		}

		s = trimmed
	}

	return whitespacePattern.ReplaceAllString(s, " ")
}

// Classify tags a raw reference. It never touches the network.
func Classify(raw string) models.Reference {
	ref := models.Reference{
		Raw:        raw,
		Normalized: Normalize(raw),
	}

	s := ref.Normalized

	switch {
	case s == "":
		ref.Kind = models.KindUnresolvable
	case isCoordinatePair(s):
		ref.Kind = models.KindCoordinates
	case IsShortLink(s):
		ref.Kind = models.KindShortLink
	case IsMapLink(s):
		if _, _, ok := Extract(s); ok {
			ref.Kind = models.KindLongLinkWithCoords
		} else {
			ref.Kind = models.KindLongLinkPlaceOnly
		}
	case LooksLikeURL(s):
		// other map hosts are usable only when they carry coordinates
		if _, _, ok := Extract(s); ok {
			ref.Kind = models.KindLongLinkWithCoords
		} else {
			ref.Kind = models.KindUnresolvable
		}
	case hasAlphanumeric(s):
		ref.Kind = models.KindFreeText
	default:
		ref.Kind = models.KindUnresolvable
	}

	return ref
}

// ParseCoordinates parses a strict "lat,lng" pair with decimal parts and
// range checks.
func ParseCoordinates(s string) (models.Coordinates, bool) {
	m := coordinatePairPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return models.Coordinates{}, false
	}

	return parsePair(m[1], m[2])
}

func isCoordinatePair(s string) bool {
	_, ok := ParseCoordinates(s)

	return ok
}

// IsShortLink reports whether s points at a link shortening host.
func IsShortLink(s string) bool {
	lower := strings.ToLower(s)

	for _, h := range shortHosts {
		if strings.Contains(lower, h) {
			return true
		}
	}

	return false
}

// IsMapLink reports whether s is a long map link.
func IsMapLink(s string) bool {
	lower := strings.ToLower(s)

	return strings.Contains(lower, "maps.google.") || longHostPattern.MatchString(lower)
}

// LooksLikeURL reports whether s is some URL, map host or not.
func LooksLikeURL(s string) bool {
	lower := strings.ToLower(s)

	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "www.") ||
		strings.Contains(lower, "://")
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

func parsePair(a, b string) (models.Coordinates, bool) {
	lat, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return models.Coordinates{}, false
	}

	lng, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return models.Coordinates{}, false
	}

	c := models.Coordinates{Lat: lat, Lng: lng}
	if !c.Valid() {
		return models.Coordinates{}, false
	}

	return c, true
}
