package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refmetric/refmetric/internal/models"
	"github.com/refmetric/refmetric/internal/notify"
	"github.com/refmetric/refmetric/internal/storage"
)

type stubGeo struct {
	country string
	err     error
}

func (g *stubGeo) Country(ip string) (string, error) { return g.country, g.err }
func (g *stubGeo) Close() error                      { return nil }

func newTestService(t *testing.T, geo GeoProvider) (*Service, *storage.InMemoryEventStore) {
	t.Helper()

	links := storage.NewInMemoryLinkRepo()
	events := storage.NewInMemoryEventStore()
	require.NoError(t, links.Create(context.Background(), &models.AffiliateLink{
		ID:          "link-1",
		AffiliateID: "aff-1",
		Code:        "abc12345",
		CreatedAt:   time.Now().UTC(),
	}))

	svc := NewService(links, events, geo, notify.NopPublisher{}, nil, nil, zap.NewNop())
	return svc, events
}

func TestRegisterClick(t *testing.T) {
	ctx := context.Background()

	t.Run("stores an enriched click and returns the link", func(t *testing.T) {
		svc, events := newTestService(t, &stubGeo{country: "FR"})

		click, link, err := svc.RegisterClick(ctx, "abc12345", ClickMeta{
			Referrer:  "https://blog.example.com",
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
			Path:      "/r/abc12345",
			IP:        "203.0.113.9",
		})
		require.NoError(t, err)
		require.NotNil(t, link)
		assert.Equal(t, "aff-1", link.AffiliateID)

		assert.Equal(t, "link-1", click.LinkID)
		assert.Equal(t, models.DeviceMobile, click.DeviceType)
		assert.Equal(t, "FR", click.GeoCountry)
		assert.Equal(t, "https://blog.example.com", click.Referrer)

		now := time.Now().UTC()
		stored, err := events.FetchClicks(ctx, []string{"link-1"}, now.Add(-time.Minute), now.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, click.ID, stored[0].ID)
	})

	t.Run("unknown code", func(t *testing.T) {
		svc, _ := newTestService(t, nil)

		click, link, err := svc.RegisterClick(ctx, "nope", ClickMeta{})
		assert.True(t, errors.Is(err, storage.ErrUnknownCode))
		assert.Nil(t, click)
		assert.Nil(t, link)
	})

	t.Run("geo lookup failure does not block the click", func(t *testing.T) {
		svc, _ := newTestService(t, &stubGeo{err: errors.New("db unavailable")})

		click, _, err := svc.RegisterClick(ctx, "abc12345", ClickMeta{
			UserAgent: "curl/8.4.0",
			IP:        "198.51.100.7",
		})
		require.NoError(t, err)
		assert.Empty(t, click.GeoCountry)
		assert.Equal(t, models.DeviceDesktop, click.DeviceType)
	})

	t.Run("empty user agent classifies as unknown", func(t *testing.T) {
		svc, _ := newTestService(t, nil)

		click, _, err := svc.RegisterClick(ctx, "abc12345", ClickMeta{})
		require.NoError(t, err)
		assert.Equal(t, models.DeviceUnknown, click.DeviceType)
	})
}
