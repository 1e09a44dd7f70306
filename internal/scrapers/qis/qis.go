// Package qis scrapes the grade overview ("Notenspiegel") of the QIS exam administration.
package qis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/pkg/htmlutil"
)

const DefaultBaseURL = "https://qisserver.htwg-konstanz.de"

const report_qis_grades = "qis.grades"

const (
	loginPath   = "/qisserver/rds?state=user&type=1&category=auth.login&startpage=portal.vm"
	confirmPath = "/qisserver/rds?state=user&type=0&category=menu.browse&breadCrumbSource=&startpage=portal.vm&chco=y"
	examsPath   = "/qisserver/rds?state=change&type=1&moduleParameter=studyPOSMenu&nextdir=change&next=menu.vm&subdir=applications&xml=menu&purge=y&navigationPosition=functions%2CstudyPOSMenu&breadcrumb=studyPOSMenu&topitem=loggedin&subitem=studyPOSMenu"

	gradesLinkText = "Notenspiegel über alle bestandenen Leistungen"
	tableAnchor    = "Prüfungsnummer"
	// the provisional grade average is listed like an exam
	provisionalAverageID = "80000"

	tokenCookie    = "cookie"
	tokenGradesURL = "grades_url"
)

type Grade struct {
	Number   string `json:"number"`
	Name     string `json:"name"`
	Semester string `json:"semester"`
	Grade    string `json:"grade"`
	Ects     string `json:"ects"`
	Status   string `json:"status"`
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
		return Scraper{}, fmt.Errorf("qis: parse base url: %w", err)
	}
	return Scraper{
		baseURL:   parsed,
		transport: transport,
		tel:       telemetry.NewScopedAPI("qis", tel),
	}, nil
}

func (s Scraper) url(path string) string {
	return s.baseURL.String() + path
}

// sessionHeaders forwards the raw login cookie, QIS rejects anything else.
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

func (s Scraper) Flow(creds portal.Credentials) portal.Flow {
	return portal.Flow{
		Name: "qis",
		Steps: []portal.Step{
			{
				Name: "login",
				Request: func(*portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:    s.url(loginPath),
						Method: http.MethodPost,
						Headers: []string{
							"Content-Type: application/x-www-form-urlencoded",
							"Host: " + s.baseURL.Host,
						},
						Body: portal.FormEncode(
							[2]string{"username", creds.Username},
							[2]string{"password", creds.Password},
							[2]string{"submit", "Anmeldung"},
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
						URL:     s.url(confirmPath),
						Method:  http.MethodGet,
						Headers: s.sessionHeaders(st),
					}, nil
				},
				IgnoreStatus: true,
			},
			{
				Name: "exam-administration",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:     s.url(examsPath),
						Method:  http.MethodGet,
						Headers: s.sessionHeaders(st),
					}, nil
				},
				Handle: func(ctx context.Context, st *portal.State, res portal.Response) error {
					doc := htmlutil.Parse(res.Body)
					links, err := doc.Query("a")
					if err != nil {
						return err
					}
					for _, anchor := range htmlutil.GetAnchors(ctx, s.baseURL, links) {
						if anchor.Href != "" && strings.Contains(anchor.Name, gradesLinkText) {
							st.Tokens[tokenGradesURL] = anchor.Href
							return nil
						}
					}
					return portal.MissingOnPage(doc, "grade overview link", htmlutil.ErrNoMatch)
				},
			},
			{
				Name: "grades",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					gradesURL, err := st.Token(tokenGradesURL)
					if err != nil {
						return portal.RequestSpec{}, err
					}
					return portal.RequestSpec{
						URL:     gradesURL,
						Method:  http.MethodGet,
						Headers: s.sessionHeaders(st),
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					grades, err := ParseGrades(htmlutil.Parse(res.Body))
					if err != nil {
						return err
					}
					st.Result = grades
					return nil
				},
			},
		},
	}
}

// ParseGrades reads every row following the header row that contains the
// "Prüfungsnummer" label. Rows with less than six cells are layout rows and skipped,
// a table without a single grade row is a scrape failure.
func ParseGrades(doc htmlutil.Document) ([]Grade, error) {
	spans, err := doc.Query("span")
	if err != nil {
		return nil, err
	}
	anchor := htmlutil.ExactText(spans, tableAnchor)
	if anchor.Length() == 0 {
		return nil, portal.MissingOnPage(doc, "grade table", errors.New("no span labeled "+tableAnchor))
	}

	rows := anchor.First().Closest("tr").NextAllFiltered("tr")
	grades := []Grade{}
	dataRows := 0
	for i := range rows.Nodes {
		cells, err := htmlutil.QueryWithin(rows.Eq(i), `td[class="tabelle1"]`)
		if err != nil {
			return nil, err
		}
		if cells.Length() < 6 {
			continue
		}
		dataRows++
		cell := func(n int) string {
			return htmlutil.CleanText(cells.Eq(n).Text())
		}
		if cell(0) == provisionalAverageID {
			continue
		}
		grades = append(grades, Grade{
			Number:   cell(0),
			Name:     cell(1),
			Semester: cell(2),
			Grade:    cell(3),
			Ects:     cell(4),
			Status:   cell(5),
		})
	}
	if dataRows == 0 {
		return nil, portal.MissingOnPage(doc, "grade table", htmlutil.ErrNoMatch)
	}
	return grades, nil
}

// Grades logs into QIS and returns every passed exam.
func (s Scraper) Grades(ctx context.Context, creds portal.Credentials) ([]Grade, error) {
	state, err := s.Flow(creds).Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_qis_grades, err)
		return nil, err
	}
	return state.Result.([]Grade), nil
}
