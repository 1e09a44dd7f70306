package printer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/portal/portaltest"

	"github.com/stretchr/testify/require"
)

const accountPage = `<html><body>
<h1>Druckerkonto</h1>
<table><tr><td>Guthaben:</td><td>12,50 EUR</td></tr><tr><td>Letzte Buchung</td><td>0,10 EUR</td></tr></table>
</body></html>`

const loginPage = `<html><body><form action="/index.spy" method="post">
<input name="username"><input type="password" name="password"><input type="submit" name="login" value="Anmelden">
</form></body></html>`

func fakePortal(t testing.TB) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.spy", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") == "max" && r.PostForm.Get("password") == "geheim" {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "print-1"})
			http.SetCookie(w, &http.Cookie{Name: "lang", Value: "de"})
		}
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/userprintacc.spy", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Druckerkonto", r.URL.Query().Get("activeMenu"))
		if r.Header.Get("Cookie") != "JSESSIONID=print-1; lang=de" {
			w.Write([]byte(loginPage))
			return
		}
		w.Write([]byte(accountPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newScraper(baseURL string, transport portal.Transport, rec *telemetry.Recorder) Scraper {
	return NewScraper(baseURL, transport, rec)
}

func TestBalance(t *testing.T) {
	srv := fakePortal(t)
	rec := &telemetry.Recorder{}
	transport := portal.NewRestyTransport(portal.TransportConfig{}, rec)

	balance, err := newScraper(srv.URL, transport, rec).Balance(
		context.Background(),
		portal.Credentials{Username: "max", Password: "geheim"},
	)
	require.NoError(t, err)
	require.Equal(t, "12,50", balance)
	require.Empty(t, rec.Reports(telemetry.KindBroken))
}

func TestBalanceWrongPassword(t *testing.T) {
	srv := fakePortal(t)
	rec := &telemetry.Recorder{}
	transport := portal.NewRestyTransport(portal.TransportConfig{}, rec)

	_, err := newScraper(srv.URL, transport, rec).Balance(
		context.Background(),
		portal.Credentials{Username: "max", Password: "falsch"},
	)
	require.Equal(t, portal.KindAuthentication, portal.KindOf(err))
	require.Len(t, rec.Reports(telemetry.KindWarning), 1)
	require.Empty(t, rec.Reports(telemetry.KindBroken))
}

func TestBalanceMissing(t *testing.T) {
	rec := &telemetry.Recorder{}
	_, err := newScraper("https://printer.test", portaltest.Pages("<p>Keine Daten</p>"), rec).Balance(
		context.Background(),
		portal.Credentials{Username: "max", Password: "geheim"},
	)
	require.Equal(t, portal.KindScrape, portal.KindOf(err))
	require.Len(t, rec.Reports(telemetry.KindBroken), 1)
}

func TestBalanceUnreachable(t *testing.T) {
	transport := portaltest.Unreachable()
	_, err := newScraper("https://printer.test", transport, &telemetry.Recorder{}).Balance(
		context.Background(),
		portal.Credentials{Username: "max", Password: "geheim"},
	)
	require.Equal(t, portal.KindTransport, portal.KindOf(err))
	require.Equal(t, 1, transport.Calls())
}
