// Package canteen reads the Seezeit canteen feed for the HTWG mensa.
package canteen

import (
	"context"
	"encoding/json"
	"net/http"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
)

const DefaultFeedURL = "https://www.max-manager.de/daten-extern/seezeit/xml/mensa_htwg/speiseplan.xml"

// CacheKey is where the encoded menu is kept.
const CacheKey = "speiseplan"

const (
	report_canteen_menu      = "canteen.menu"
	report_canteen_cache_get = "canteen.cache-get"
	report_canteen_cache_set = "canteen.cache-set"
)

type Scraper struct {
	feedURL   string
	transport portal.Transport
	store     cache.Store
	clock     chrono.TimeAPI
	tel       telemetry.API
}

func NewScraper(feedURL string, transport portal.Transport, store cache.Store, clock chrono.TimeAPI, tel telemetry.API) Scraper {
	assert.NotNil(transport)
	assert.NotNil(store)
	assert.NotNil(clock)
	assert.NotNil(tel)
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	return Scraper{
		feedURL:   feedURL,
		transport: transport,
		store:     store,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("canteen", tel),
	}
}

func (s Scraper) Flow() portal.Flow {
	return portal.Flow{
		Name: "canteen",
		Steps: []portal.Step{
			{
				Name: "feed",
				Request: func(*portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:             s.feedURL,
						Method:          http.MethodGet,
						FollowRedirects: true,
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					menu, err := ParseFeed(res.Body, s.clock.Location())
					if err != nil {
						return portal.ScrapeError(err)
					}
					st.Result = menu
					return nil
				},
			},
		},
	}
}

// MenuJSON returns the encoded menu, from the cache when a fresh copy exists.
// A broken cache is reported and bypassed.
func (s Scraper) MenuJSON(ctx context.Context) ([]byte, error) {
	cached, ok, err := s.store.Get(ctx, CacheKey)
	if err != nil {
		s.tel.ReportWarning(report_canteen_cache_get, err)
	}
	if ok {
		s.tel.ReportDebug(report_canteen_menu, "cache hit")
		return cached, nil
	}

	state, err := s.Flow().Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_canteen_menu, err)
		return nil, err
	}

	encoded, err := json.Marshal(state.Result.(Menu))
	if err != nil {
		err = &portal.Error{Kind: portal.KindSerialization, Flow: "canteen", Err: err}
		portal.Report(s.tel, report_canteen_menu, err)
		return nil, err
	}

	err = s.store.Set(ctx, CacheKey, encoded)
	if err != nil {
		s.tel.ReportWarning(report_canteen_cache_set, err)
	}
	return encoded, nil
}

func (s Scraper) Menu(ctx context.Context) (Menu, error) {
	encoded, err := s.MenuJSON(ctx)
	if err != nil {
		return Menu{}, err
	}
	var menu Menu
	err = json.Unmarshal(encoded, &menu)
	if err != nil {
		return Menu{}, &portal.Error{Kind: portal.KindSerialization, Flow: "canteen", Err: err}
	}
	return menu, nil
}
