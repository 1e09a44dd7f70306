package application

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var userAgents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgents = append(userAgents, r.UserAgent())
		switch r.URL.Path {
		case "/feed.xml":
			fmt.Fprint(w, `<speiseplan><tag timestamp="1727733600"><item><title>Linsen</title></item></tag></speiseplan>`)
		case "/index.spy":
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "1"})
		case "/userprintacc.spy":
			fmt.Fprint(w, `<td>Guthaben</td><td>7,25 EUR</td>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dump := t.TempDir()
	svc, closeStore, err := New(context.Background(), Config{
		Http: HttpConfig{
			UserAgent:      "htwg-test",
			TimeoutSeconds: 5,
			DumpDirectory:  dump,
		},
		Portals: PortalsConfig{
			Printer:     srv.URL,
			CanteenFeed: srv.URL + "/feed.xml",
		},
		Cache: cache.Config{Backend: "memory"},
	}, chrono.NewFixedImpl(time.Date(2024, 10, 1, 8, 0, 0, 0, chrono.Berlin)), &telemetry.Recorder{})
	require.NoError(t, err)
	defer closeStore()

	res := svc.CanteenMenu(context.Background())
	require.Equal(t, 200, res.StatusCode)
	require.Contains(t, string(res.Payload), "01.10.2024")

	res = svc.CanteenMenu(context.Background())
	require.Equal(t, 200, res.StatusCode)

	res = svc.PrinterBalance(context.Background(), portal.Credentials{Username: "max", Password: "geheim"})
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "7,25", string(res.Payload))

	require.Len(t, userAgents, 3, "the second menu must come from the cache")
	for _, ua := range userAgents {
		require.Equal(t, "htwg-test", ua)
	}
}

func TestNewUnknownCache(t *testing.T) {
	_, closeStore, err := New(context.Background(), Config{
		Cache: cache.Config{Backend: "redis"},
	}, chrono.NewStandardImpl(), &telemetry.Recorder{})
	require.Error(t, err)
	require.NoError(t, closeStore())
}
