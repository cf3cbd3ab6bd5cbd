package location

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/provider"
)

type fakeDetails struct {
	calls int
	found map[string]models.Coordinates
	err   error
}

func (f *fakeDetails) PlaceDetails(ctx context.Context, placeID string) (models.Coordinates, error) {
	if err := provider.Spend(ctx); err != nil {
		return models.Coordinates{}, err
	}

	f.calls++

	if f.err != nil {
		return models.Coordinates{}, f.err
	}

	c, ok := f.found[placeID]
	if !ok {
		return models.Coordinates{}, &provider.StatusError{Endpoint: "place_details", Status: provider.StatusNotFound}
	}

	return c, nil
}

func TestExtractDataID(t *testing.T) {
	url := "https://www.google.com/maps/place/Blue+Bottle+Coffee/data=!4m7!3m6!1s0x80858098babc2d4b:0xbeedd659cc698c92!8m2!3d37.7763342!4d-122.4232375"

	assert.Equal(t, "0x80858098babc2d4b:0xbeedd659cc698c92", ExtractDataID(url))
	assert.Equal(t, "0x1:0x2", ExtractDataID("https://maps.google.com/?ftid=0x1:0x2"))
	assert.Empty(t, ExtractDataID("https://www.google.com/maps/place/Plaza/"))
}

func TestDecodeCID(t *testing.T) {
	cid, err := DecodeCID("0x80858098babc2d4b:0xbeedd659cc698c92")
	require.NoError(t, err)
	assert.Equal(t, uint64(13757888117856636050), cid)

	for _, bad := range []string{
		"0x80858098babc2d4b",
		"0x1:0x2:0x3",
		"0x1:0x1beedd659cc698c92",
		"0x1:0x0",
		"0x1:beedd659",
	} {
		_, err := DecodeCID(bad)
		assert.ErrorIs(t, err, ErrUnsupportedIdentifier, bad)
	}
}

func TestExtractPlaceID(t *testing.T) {
	assert.Equal(t, "ChIJabc_123-x", ExtractPlaceID("https://www.google.com/maps/place/X/data=!4m2!3m1!19sChIJabc_123-x?entry=ttu"))
	assert.Equal(t, "ChIJq", ExtractPlaceID("https://www.google.com/maps/search/?api=1&query=Plaza&query_place_id=ChIJq"))
	assert.Equal(t, "ChIJp", ExtractPlaceID("https://maps.google.com/?place_id=ChIJp"))
	assert.Empty(t, ExtractPlaceID("https://www.google.com/maps/place/Plaza/"))
}

func TestPlaceName(t *testing.T) {
	assert.Equal(t, "Plaza 14 de Septiembre", PlaceName("https://www.google.com/maps/place/Plaza+14+de+Septiembre/data=!4m2"))
	assert.Equal(t, "Café Paris", PlaceName("https://www.google.com/maps/place/Caf%C3%A9+Paris/@-17.39,-66.15,17z"))
	assert.Equal(t, "Mercado La Cancha", PlaceName("https://maps.google.com/?q=Mercado+La+Cancha"))
	assert.Empty(t, PlaceName("https://www.google.com/maps/search/-17.39,-66.15"))
	assert.Empty(t, PlaceName("https://maps.google.com/?q=place_id:ChIJx"))
}

func TestPlaceResolver(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("cid decode needs no call", func(t *testing.T) {
		details := &fakeDetails{}
		p := NewPlaceResolver(details, logger)

		res, ok, err := p.Resolve(ctx, "https://www.google.com/maps/place/X/data=!4m2!3m1!1s0x80858098babc2d4b:0xbeedd659cc698c92!19sChIJx")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "place_id:13757888117856636050", res.Routable)
		assert.Equal(t, models.ViaCIDDecode, res.Via)
		assert.Zero(t, details.calls)
	})

	t.Run("unsupported shape falls through to place id", func(t *testing.T) {
		details := &fakeDetails{found: map[string]models.Coordinates{"ChIJx": {Lat: -17.38, Lng: -66.16}}}
		p := NewPlaceResolver(details, logger)

		res, ok, err := p.Resolve(ctx, "https://www.google.com/maps/place/X/data=!1s0x1:0x2:0x3!19sChIJx")
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, res.IsPoint())
		assert.Equal(t, models.ViaPlaceIDGeocode, res.Via)
		assert.Equal(t, RankPlaceDetails, res.PrecisionRank)
		assert.Equal(t, 1, details.calls)
	})

	t.Run("failed lookup degrades to routable place id", func(t *testing.T) {
		details := &fakeDetails{}
		p := NewPlaceResolver(details, logger)

		res, ok, err := p.Resolve(ctx, "https://maps.google.com/?place_id=ChIJmissing")
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, res.IsPoint())
		assert.Equal(t, "place_id:ChIJmissing", res.Routable)
	})

	t.Run("connectivity failure is returned", func(t *testing.T) {
		details := &fakeDetails{err: &provider.TransportError{Err: errors.New("dial tcp: connection refused")}}
		p := NewPlaceResolver(details, logger)

		_, _, err := p.Resolve(ctx, "https://maps.google.com/?place_id=ChIJx")
		assert.ErrorIs(t, err, models.ErrNoConnectivity)
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		details := &fakeDetails{}
		p := NewPlaceResolver(details, logger)

		_, ok, err := p.Resolve(ctx, "https://www.google.com/maps/place/Plaza/")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, details.calls)
	})
}
