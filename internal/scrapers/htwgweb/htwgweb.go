// Package htwgweb scrapes the public pages of the HTWG website.
package htwgweb

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	DefaultExamDatesURL = "https://www.htwg-konstanz.de/studium/pruefungsangelegenheiten/terminefristen/"
	DefaultCafeURL      = "https://www.htwg-konstanz.de/%20/hochschule/einrichtungen/asta/cafe-endlicht/"
)

const (
	report_htwgweb_exam_dates = "htwgweb.exam-dates"
	report_htwgweb_cafe       = "htwgweb.cafe"
)

type CafeKind string

const (
	CafeHours  CafeKind = "zeiten"
	CafePrices CafeKind = "preise"
)

// ParseCafeKind accepts the kinds of café information that can be scraped.
func ParseCafeKind(kind string) (CafeKind, error) {
	switch CafeKind(kind) {
	case CafeHours, CafePrices:
		return CafeKind(kind), nil
	}
	return "", portal.InvalidArgument("unknown cafe info %q", kind)
}

type Price struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type Pages struct {
	ExamDates string `json:"exam_dates"`
	Cafe      string `json:"cafe"`
}

type Scraper struct {
	pages     Pages
	transport portal.Transport
	tel       telemetry.API
}

func NewScraper(pages Pages, transport portal.Transport, tel telemetry.API) Scraper {
	assert.NotNil(transport)
	assert.NotNil(tel)
	if pages.ExamDates == "" {
		pages.ExamDates = DefaultExamDatesURL
	}
	if pages.Cafe == "" {
		pages.Cafe = DefaultCafeURL
	}
	return Scraper{
		pages:     pages,
		transport: transport,
		tel:       telemetry.NewScopedAPI("htwgweb", tel),
	}
}

func pageFlow(name, pageURL string, extract func(doc htmlutil.Document) (any, error)) portal.Flow {
	return portal.Flow{
		Name: name,
		Steps: []portal.Step{
			{
				Name: "page",
				Request: func(*portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{
						URL:             pageURL,
						Method:          http.MethodGet,
						FollowRedirects: true,
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					result, err := extract(htmlutil.Parse(res.Body))
					if err != nil {
						return portal.ScrapeError(err)
					}
					st.Result = result
					return nil
				},
			},
		},
	}
}

// ExtractExamDates returns the section holding the first heading of the
// "Termine und Fristen" page.
func ExtractExamDates(doc htmlutil.Document) (string, error) {
	heading, err := doc.First("h2")
	if err != nil {
		return "", fmt.Errorf("exam dates heading: %w", err)
	}
	return htmlutil.OuterHTML(heading.Parent())
}

// ExtractCafeHours returns the first element that talks about opening hours.
func ExtractCafeHours(doc htmlutil.Document) (string, error) {
	hours := htmlutil.OwnTextContains(doc.Selection().Find("*"), "Öffnungszeiten")
	out, err := htmlutil.OuterHTML(hours)
	if err != nil {
		return "", fmt.Errorf("opening hours: %w", err)
	}
	return out, nil
}

// ExtractCafePrices reads every list that contains a price. Each text line of a
// list entry looks like "Kaffee: 1,20 €", lines without a colon are skipped.
func ExtractCafePrices(doc htmlutil.Document) []Price {
	lists := htmlutil.OwnTextContains(doc.Selection().Find("*"), "€").ParentFiltered("ul")

	prices := []Price{}
	lists.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		for child := li.Nodes[0].FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.TextNode {
				continue
			}
			name, price, found := strings.Cut(child.Data, ":")
			if !found {
				continue
			}
			prices = append(prices, Price{
				Name:  strings.TrimSpace(name),
				Price: strings.TrimSpace(price),
			})
		}
	})
	return prices
}

// ExamDates returns the exam dates and deadlines section as HTML.
func (s Scraper) ExamDates(ctx context.Context) (string, error) {
	flow := pageFlow("exam-dates", s.pages.ExamDates, func(doc htmlutil.Document) (any, error) {
		return ExtractExamDates(doc)
	})
	state, err := flow.Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_htwgweb_exam_dates, err)
		return "", err
	}
	return state.Result.(string), nil
}

// CafeOpeningHours returns the opening hours of the café as HTML.
func (s Scraper) CafeOpeningHours(ctx context.Context) (string, error) {
	flow := pageFlow("cafe-hours", s.pages.Cafe, func(doc htmlutil.Document) (any, error) {
		return ExtractCafeHours(doc)
	})
	state, err := flow.Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_htwgweb_cafe, err)
		return "", err
	}
	return state.Result.(string), nil
}

func (s Scraper) CafePrices(ctx context.Context) ([]Price, error) {
	flow := pageFlow("cafe-prices", s.pages.Cafe, func(doc htmlutil.Document) (any, error) {
		return ExtractCafePrices(doc), nil
	})
	state, err := flow.Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_htwgweb_cafe, err)
		return nil, err
	}
	return state.Result.([]Price), nil
}
