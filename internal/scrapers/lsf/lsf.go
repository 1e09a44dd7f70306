// Package lsf fetches the personal timetable from the LSF course catalogue.
package lsf

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/pkg/htmlutil"
)

const DefaultBaseURL = "https://lsf.htwg-konstanz.de"

const report_lsf_timetable = "lsf.timetable"

const (
	loginPath   = "/qisserver/rds?state=user&type=1&category=auth.login&startpage=portal.vm&breadCrumbSource=portal"
	confirmPath = "/qisserver/rds?state=user&type=0&category=menu.browse&breadCrumbSource=portal&startpage=portal.vm&chco=y"
	// week 500 is how LSF spells "the whole semester"
	allWeeks = "500"

	tokenCookie = "cookie"
)

// TimetableRequest selects the week to render. Week and Year are both needed to
// pick a single week, otherwise the whole semester is returned.
type TimetableRequest struct {
	Week string
	Year string
	// Type is the rendering, only "table" (and "" for the default) exist.
	Type string
}

func (r TimetableRequest) validate() error {
	if r.Type != "" && r.Type != "table" {
		return portal.InvalidArgument("unknown timetable type %q", r.Type)
	}
	return nil
}

func (r TimetableRequest) weekParam() string {
	if r.Week != "" && r.Year != "" && r.Year != "all" {
		return url.QueryEscape(r.Week + "_" + r.Year)
	}
	return allWeeks
}

type Scraper struct {
	baseURL   *url.URL
	transport portal.Transport
	tel       telemetry.API
}

func NewScraper(baseURL string, transport portal.Transport, tel telemetry.API) (Scraper, error) {
	assert.NotNil(transport)
	assert.NotNil(tel)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return Scraper{}, fmt.Errorf("lsf: parse base url: %w", err)
	}
	return Scraper{
		baseURL:   parsed,
		transport: transport,
		tel:       telemetry.NewScopedAPI("lsf", tel),
	}, nil
}

func (s Scraper) sessionHeaders(st *portal.State) []string {
	headers := []string{
		"Host: " + s.baseURL.Host,
		"Connection: keep-alive",
	}
	if cookie, ok := portal.CookieHeader(st.Tokens[tokenCookie]); ok {
		headers = append(headers, cookie)
	}
	return headers
}

func (s Scraper) Flow(creds portal.Credentials, req TimetableRequest) portal.Flow {
	return portal.Flow{
		Name: "lsf",
		Steps: []portal.Step{
			{
				Name: "login",
				Request: func(*portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:    s.baseURL.String() + loginPath,
						Method: http.MethodPost,
						Headers: []string{
							"Content-Type: application/x-www-form-urlencoded",
							"Host: " + s.baseURL.Host,
						},
						Body: portal.FormEncode(
							[2]string{"asdf", creds.Username},
							[2]string{"fdsa", creds.Password},
							[2]string{"submit", "Anmelden"},
						),
						IncludeResponseHeaders: true,
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					cookie, _ := portal.FirstSetCookie(res.Head)
					st.Tokens[tokenCookie] = cookie
					return nil
				},
			},
			{
				Name: "confirm",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:     s.baseURL.String() + confirmPath,
						Method:  http.MethodGet,
						Headers: s.sessionHeaders(st),
					}, nil
				},
				IgnoreStatus: true,
			},
			{
				Name: "timetable",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL: fmt.Sprintf(
							"%s/qisserver/rds?state=wplan&week=%s&act=show&pool=&show=plan&P.vx=kurz&P.Print=",
							s.baseURL.String(),
							req.weekParam(),
						),
						Method:  http.MethodGet,
						Headers: s.sessionHeaders(st),
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					if portal.LoginFormVisible(htmlutil.Parse(res.Body)) {
						return portal.AuthError("timetable page shows the login form")
					}
					st.Result = res.Body
					return nil
				},
			},
		},
	}
}

// Timetable returns the timetable page as the portal renders it.
func (s Scraper) Timetable(ctx context.Context, creds portal.Credentials, req TimetableRequest) ([]byte, error) {
	err := req.validate()
	if err != nil {
		portal.Report(s.tel, report_lsf_timetable, err)
		return nil, err
	}

	state, err := s.Flow(creds, req).Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_lsf_timetable, err)
		return nil, err
	}
	return state.Result.([]byte), nil
}
