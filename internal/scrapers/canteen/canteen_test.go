package canteen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/portal/portaltest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testClock = chrono.NewFixedImpl(time.Date(2024, 10, 1, 9, 0, 0, 0, chrono.Berlin))

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<speiseplan>
  <tag timestamp="1727733600">
    <item>
      <category>Seezeit-Teller</category>
      <title>Linsen mit Spätzle</title>
      <preis1>3,50</preis1><preis2>5,10</preis2><preis3>6,20</preis3><preis4>1,75</preis4>
      <icons>Veg</icons>
    </item>
    <item>
      <category>KombinierBar</category>
      <title>Putengeschnetzeltes</title>
      <preis1>4,00</preis1><preis2>5,60</preis2><preis3>6,70</preis3><preis4>2,00</preis4>
      <icons>G</icons>
    </item>
  </tag>
  <tag timestamp="1727820000">
    <item>
      <category>Seezeit-Teller</category>
      <title>Gemüsecurry</title>
      <preis1>3,50</preis1><preis2>5,10</preis2><preis3>6,20</preis3><preis4>1,75</preis4>
      <icons>Vegan</icons>
    </item>
    <item>
      <category>Pasta</category>
      <title>Penne Arrabiata</title>
      <preis1>2,90</preis1><preis2>4,50</preis2><preis3>5,60</preis3><preis4>1,45</preis4>
      <icons>Veg,Vegan</icons>
    </item>
  </tag>
</speiseplan>`

func TestDayKey(t *testing.T) {
	require.Equal(t, "01.10.2024", DayKey(1727733600, chrono.Berlin))
	require.Equal(t, "01.10.2024", DayKey(1727780400, chrono.Berlin))
	require.Equal(t, "02.10.2024", DayKey(1727820000, chrono.Berlin))
}

func TestParseFeed(t *testing.T) {
	menu, err := ParseFeed([]byte(feedXML), chrono.Berlin)
	require.NoError(t, err)

	expected := Menu{Days: []Day{
		{Date: "01.10.2024", Items: []Item{
			{Category: "Seezeit-Teller", Title: "Linsen mit Spätzle", Price: []string{"3,50", "5,10", "6,20", "1,75"}, Kind: "Veg"},
			{Category: "KombinierBar", Title: "Putengeschnetzeltes", Price: []string{"4,00", "5,60", "6,70", "2,00"}, Kind: "G"},
		}},
		{Date: "02.10.2024", Items: []Item{
			{Category: "Seezeit-Teller", Title: "Gemüsecurry", Price: []string{"3,50", "5,10", "6,20", "1,75"}, Kind: "Vegan"},
			{Category: "Pasta", Title: "Penne Arrabiata", Price: []string{"2,90", "4,50", "5,60", "1,45"}, Kind: "Veg,Vegan"},
		}},
	}}
	if diff := cmp.Diff(expected, menu); diff != "" {
		t.Fatalf("menu mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFeedEdgeCases(t *testing.T) {
	menu, err := ParseFeed([]byte(`<speiseplan></speiseplan>`), chrono.Berlin)
	require.NoError(t, err)
	encoded, err := json.Marshal(menu)
	require.NoError(t, err)
	require.Equal(t, `{}`, string(encoded))

	menu, err = ParseFeed([]byte(`<speiseplan>
<tag><item><title>ohne Datum</title></item></tag>
<tag timestamp="1727733600"><item><title>alt</title></item></tag>
<tag timestamp="1727820000"></tag>
<tag timestamp="1727780400"><item><title>neu</title></item></tag>
</speiseplan>`), chrono.Berlin)
	require.NoError(t, err)
	require.Len(t, menu.Days, 2)
	require.Equal(t, "01.10.2024", menu.Days[0].Date)
	require.Equal(t, "neu", menu.Days[0].Items[0].Title)
	require.Equal(t, "02.10.2024", menu.Days[1].Date)
	require.Empty(t, menu.Days[1].Items)

	latin1 := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><speiseplan><tag timestamp="1727733600"><item><title>Sp`), 0xe4, 't', 'z', 'l', 'e')
	latin1 = append(latin1, []byte(`</title></item></tag></speiseplan>`)...)
	menu, err = ParseFeed(latin1, chrono.Berlin)
	require.NoError(t, err)
	require.Equal(t, "Spätzle", menu.Days[0].Items[0].Title)

	_, err = ParseFeed([]byte(`<speiseplan><tag`), chrono.Berlin)
	require.Error(t, err)
}

func TestMenuJSONKeepsOrder(t *testing.T) {
	menu := Menu{Days: []Day{
		{Date: "03.10.2024", Items: []Item{{Title: "b", Price: []string{"1", "2", "3", "4"}}}},
		{Date: "01.10.2024"},
	}}
	encoded, err := json.Marshal(menu)
	require.NoError(t, err)
	require.Equal(t,
		`{"03.10.2024":{"items":[{"category":"","title":"b","price":["1","2","3","4"],"kind":""}]},"01.10.2024":{"items":[]}}`,
		string(encoded),
	)

	var decoded Menu
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, []string{"03.10.2024", "01.10.2024"}, []string{decoded.Days[0].Date, decoded.Days[1].Date})
	require.Equal(t, "b", decoded.Days[0].Items[0].Title)
}

func TestMenuUsesCache(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	rec := &telemetry.Recorder{}
	store := cache.NewMemory(4, time.Hour)
	s := NewScraper(srv.URL, portal.NewRestyTransport(portal.TransportConfig{}, rec), store, testClock, rec)

	first, err := s.MenuJSON(context.Background())
	require.NoError(t, err)
	second, err := s.MenuJSON(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, fetches)
	require.Equal(t, string(first), string(second))

	cached, ok, err := store.Get(context.Background(), CacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, string(first), string(cached))

	menu, err := s.Menu(context.Background())
	require.NoError(t, err)
	require.Len(t, menu.Days, 2)
	for _, day := range menu.Days {
		require.Len(t, day.Items, 2)
		for _, item := range day.Items {
			require.Len(t, item.Price, 4)
		}
	}
	require.Equal(t, 1, fetches)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, context.DeadlineExceeded
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return context.DeadlineExceeded
}

func TestMenuBrokenCache(t *testing.T) {
	rec := &telemetry.Recorder{}
	transport := portaltest.Pages(feedXML)
	s := NewScraper("", transport, brokenStore{}, testClock, rec)

	encoded, err := s.MenuJSON(context.Background())
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"01.10.2024"`)
	require.Len(t, rec.Reports(telemetry.KindWarning), 2)
	require.Equal(t, DefaultFeedURL, transport.Specs()[0].URL)
}

func TestMenuUnreachable(t *testing.T) {
	rec := &telemetry.Recorder{}
	transport := portaltest.Unreachable()
	store := cache.NewMemory(4, time.Hour)
	s := NewScraper("", transport, store, testClock, rec)

	_, err := s.MenuJSON(context.Background())
	require.Equal(t, portal.KindTransport, portal.KindOf(err))
	require.Equal(t, 1, transport.Calls())
	require.Len(t, rec.Reports(telemetry.KindBroken), 1)

	_, ok, err := store.Get(context.Background(), CacheKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMenuBrokenFeed(t *testing.T) {
	s := NewScraper("", portaltest.Pages("<html>wartung</html"), cache.Disabled{}, testClock, &telemetry.Recorder{})
	_, err := s.MenuJSON(context.Background())
	require.Equal(t, portal.KindScrape, portal.KindOf(err))
}
