// Package printer reads the balance of a student's printing account.
package printer

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/pkg/htmlutil"
)

const DefaultBaseURL = "https://login.rz.htwg-konstanz.de"

const report_printer_balance = "printer.balance"

var balanceRegex = regexp.MustCompile(`\d+,\d+`)

type Scraper struct {
	baseURL   string
	transport portal.Transport
	tel       telemetry.API
}

func NewScraper(baseURL string, transport portal.Transport, tel telemetry.API) Scraper {
	assert.NotNil(transport)
	assert.NotNil(tel)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Scraper{
		baseURL:   baseURL,
		transport: transport,
		tel:       telemetry.NewScopedAPI("printer", tel),
	}
}

// Flow logs in with a form post, replays every cookie the login handed out and reads
// the first "digits,digits" amount off the account page.
func (s Scraper) Flow(creds portal.Credentials) portal.Flow {
	return portal.Flow{
		Name: "printer",
		Steps: []portal.Step{
			{
				Name: "login",
				Request: func(*portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:    s.baseURL + "/index.spy",
						Method: http.MethodPost,
						Body: portal.FormEncode(
							[2]string{"username", creds.Username},
							[2]string{"password", creds.Password},
							[2]string{"login", "Anmelden"},
						),
						IncludeResponseHeaders: true,
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					return nil
				},
			},
			{
				Name: "account",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:     s.baseURL + "/userprintacc.spy?activeMenu=Druckerkonto",
						Method:  http.MethodGet,
						Headers: st.CookieHeaders(),
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					balance := balanceRegex.Find(res.Body)
					if balance == nil {
						return portal.MissingOnPage(
							htmlutil.Parse(res.Body),
							"balance",
							errors.New("no amount on account page"),
						)
					}
					st.Result = string(balance)
					return nil
				},
			},
		},
	}
}

// Balance returns the account balance exactly as the portal prints it, ex. "12,50".
func (s Scraper) Balance(ctx context.Context, creds portal.Credentials) (string, error) {
	state, err := s.Flow(creds).Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_printer_balance, err)
		return "", err
	}
	return state.Result.(string), nil
}
