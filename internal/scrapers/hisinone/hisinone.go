// Package hisinone downloads the enrollment certificate ("Immatrikulationsbescheinigung")
// by replaying the JSF clicks a browser would make in HISinOne.
package hisinone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/pkg/htmlutil"
)

const DefaultBaseURL = "https://hisinone.htwg-konstanz.de"

// Filename is what the certificate is offered as to the user.
const Filename = "Immatrikulationsbescheinigung.pdf"

const report_hisinone_certificate = "hisinone.certificate"

const (
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:95.0) Gecko/20100101 Firefox/95.0"

	startPagePath = "/qisserver/pages/cs/sys/portal/hisinoneStartPage.faces"
	loginPath     = "/qisserver/rds?state=user&type=1&category=auth.login"
	confirmPath   = "/qisserver/rds?state=user&type=0&category=menu.browse&breadCrumbSource=&startpage=portal.vm&chco=y"
	studyService  = "/qisserver/pages/cm/exa/enrollment/info/start.xhtml?_flowId=studyservice-flow"
	studyEntry    = studyService + "&navigationPosition=hisinoneMeinStudium%2ChisinoneStudyservice&recordRequest=true"

	studyNavigation = "hisinoneMeinStudium,hisinoneStudyservice"
	certificateJob  = "studyserviceForm:bescheinigung:reports:reportButtons:jobConfigurationButtons:0:jobConfigurationButtons:2:job2"

	// the first flow execution key of a fresh web flow, only used when the
	// study service page does not tell us its key
	fallbackFlowKey = "e1s1"

	tokenAjax      = "ajax_token"
	tokenAuth      = "authenticity_token"
	tokenViewState = "view_state"
	tokenFlowKey   = "flow_key"
	tokenDownload  = "download_href"
)

var ErrNotPDF = errors.New("downloaded file is not a pdf")

type Scraper struct {
	baseURL   *url.URL
	transport portal.Transport
	clock     chrono.TimeAPI
	tel       telemetry.API
}

func NewScraper(baseURL string, transport portal.Transport, clock chrono.TimeAPI, tel telemetry.API) (Scraper, error) {
	assert.NotNil(transport)
	assert.NotNil(clock)
	assert.NotNil(tel)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return Scraper{}, fmt.Errorf("hisinone: parse base url: %w", err)
	}
	return Scraper{
		baseURL:   parsed,
		transport: transport,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("hisinone", tel),
	}, nil
}

func (s Scraper) url(path string) string {
	return s.baseURL.String() + path
}

func (s Scraper) headers(st *portal.State, form bool) []string {
	headers := []string{
		"User-Agent: " + userAgent,
		"Host: " + s.baseURL.Host,
		"Origin: " + s.baseURL.Scheme + "://" + s.baseURL.Host,
	}
	headers = append(headers, st.CookieHeaders()...)
	if form {
		headers = append(headers, "Content-Type: application/x-www-form-urlencoded; charset=utf-8")
	}
	return append(headers, "Connection: keep-alive")
}

// touch marks the session as recently active the way the HISinOne frontend script does.
func (s Scraper) touch(st *portal.State) {
	st.Cookies.Set("lastRefresh", strconv.FormatInt(s.clock.Now().UnixMilli(), 10))
}

func (s Scraper) get(st *portal.State, path string, follow bool) portal.RequestSpec {
	return portal.RequestSpec{
		URL:                    s.url(path),
		Method:                 http.MethodGet,
		Headers:                s.headers(st, false),
		IncludeResponseHeaders: true,
		FollowRedirects:        follow,
	}
}

func (s Scraper) post(st *portal.State, path string, body string, follow bool) portal.RequestSpec {
	s.touch(st)
	return portal.RequestSpec{
		URL:                    s.url(path),
		Method:                 http.MethodPost,
		Headers:                s.headers(st, true),
		Body:                   body,
		IncludeResponseHeaders: true,
		FollowRedirects:        follow,
	}
}

var cdataRegex = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

// parsePage parses a full page or a JSF partial response, whose updates are wrapped
// in CDATA sections an HTML parser would otherwise treat as comments.
func parsePage(body []byte) htmlutil.Document {
	return htmlutil.Parse(cdataRegex.ReplaceAll(body, []byte("$1")))
}

// viewState reads the JSF view state from a hidden input, or from the view state
// update of a partial response.
func viewState(doc htmlutil.Document) (string, error) {
	value, err := doc.Attr(`input[name="javax.faces.ViewState"]`, "value")
	if err == nil && value != "" {
		return value, nil
	}
	update, err := doc.First(`update[id*="javax.faces.ViewState"]`)
	if err != nil {
		return "", err
	}
	text := htmlutil.CleanText(update.Text())
	if text == "" {
		return "", fmt.Errorf("empty view state update: %w", htmlutil.ErrNoMatch)
	}
	return text, nil
}

func (s Scraper) Flow(creds portal.Credentials) portal.Flow {
	mergeCookies := func(_ context.Context, st *portal.State, res portal.Response) error {
		st.Cookies.MergeHead(res.Head)
		return nil
	}

	return portal.Flow{
		Name: "hisinone",
		Steps: []portal.Step{
			{
				Name: "start-page",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return s.get(st, startPagePath, true), nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					st.Cookies.Set("sessionRefresh", "0")
					token, err := parsePage(res.Body).Attr("#ajaxToken", "value")
					if err != nil {
						return portal.ScrapeError(fmt.Errorf("ajax token: %w", err))
					}
					st.Tokens[tokenAjax] = token
					return nil
				},
			},
			{
				Name: "login",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					ajaxToken, err := st.Token(tokenAjax)
					if err != nil {
						return portal.RequestSpec{}, err
					}
					return s.post(st, loginPath, portal.FormEncode(
						[2]string{"userInfo", ""},
						[2]string{"ajax-token", ajaxToken},
						[2]string{"asdf", creds.Username},
						[2]string{"fdsa", creds.Password},
						[2]string{"submit", ""},
					), false), nil
				},
				Handle: mergeCookies,
			},
			{
				Name: "confirm",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return s.get(st, confirmPath, false), nil
				},
				Handle:       mergeCookies,
				IgnoreStatus: true,
			},
			{
				Name: "logged-in-start-page",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return s.get(st, startPagePath, false), nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					doc := parsePage(res.Body)
					auth, err := doc.Attr(`input[name="authenticity_token"]`, "value")
					if err != nil {
						return portal.MissingOnPage(doc, "authenticity token", err)
					}
					state, err := viewState(doc)
					if err != nil {
						return portal.MissingOnPage(doc, "view state", err)
					}
					st.Tokens[tokenAuth] = auth
					st.Tokens[tokenViewState] = state
					return nil
				},
			},
			{
				Name: "open-functions-portlet",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					return s.post(st, startPagePath, portal.FormEncode(
						[2]string{"activePageElementId", ""},
						[2]string{"refreshButtonClickedId", ""},
						[2]string{"navigationPosition", "link_homepage"},
						[2]string{"authenticity_token", st.Tokens[tokenAuth]},
						[2]string{"autoScroll", ""},
						[2]string{"startPage:portletInstanceId_20581:portletInstanceId_20581CollapsedState", "true"},
						[2]string{"startPage:portletInstanceId_20583:portletInstanceId_20583CollapsedState", "false"},
						[2]string{"startPage:portletInstanceId_20584:portletInstanceId_20584CollapsedState", "false"},
						[2]string{"startPage_SUBMIT", "1"},
						[2]string{"javax.faces.ViewState", st.Tokens[tokenViewState]},
						[2]string{"javax.faces.behavior.event", "action"},
						[2]string{"javax.faces.partial.event", "click"},
						[2]string{"javax.faces.source", "startPage:portletInstanceId_20584:hisinoneFunction:load"},
						[2]string{"javax.faces.partial.ajax", "true"},
						[2]string{"javax.faces.partial.execute", "startPage:workaroundForForceIdAjaxRequest startPage:portletInstanceId_20584:hisinoneFunction:load"},
						[2]string{"javax.faces.partial.render", "startPage:portletInstanceId_20584:hisinoneFunction:onready startPage:workaroundForForceIdAjaxRequest"},
						[2]string{"startPage", "startPage"},
					), false), nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					if state, err := viewState(parsePage(res.Body)); err == nil {
						st.Tokens[tokenViewState] = state
					}
					return nil
				},
			},
			{
				Name: "study-service",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					s.touch(st)
					return s.get(st, studyEntry, true), nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					st.Tokens[tokenFlowKey] = fallbackFlowKey
					if key, err := viewState(parsePage(res.Body)); err == nil {
						st.Tokens[tokenFlowKey] = key
					}
					return nil
				},
				IgnoreStatus: true,
			},
			{
				Name: "certificates-tab",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					key := st.Tokens[tokenFlowKey]
					return s.post(st, studyService+"&_flowExecutionKey="+url.QueryEscape(key), portal.FormEncode(
						[2]string{"activePageElementId", "studyserviceForm:bescheinigung_TabBtn"},
						[2]string{"refreshButtonClickedId", ""},
						[2]string{"navigationPosition", studyNavigation},
						[2]string{"authenticity_token", st.Tokens[tokenAuth]},
						[2]string{"autoScroll", ""},
						[2]string{"studyserviceForm:fieldsetInforStatusStudent:collapsiblePanelCollapsedState", "true"},
						[2]string{"studyserviceForm:fieldsetPersoenlicheData:collapsiblePanelCollapsedState", "true"},
						[2]string{"studyserviceForm:fieldsetForAktionStudystatus:collapsiblePanelCollapsedState", "false"},
						[2]string{"studyserviceForm:content.6", ""},
						[2]string{"studyserviceForm:studienstatus:collapsibleFieldsetCourseOfStudies:collapsiblePanelCollapsedState", "false"},
						[2]string{"studyserviceForm_SUBMIT", "1"},
						[2]string{"javax.faces.ViewState", key},
					), true), nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					doc := parsePage(res.Body)
					state, err := viewState(doc)
					if err != nil {
						return portal.MissingOnPage(doc, "certificates tab view state", err)
					}
					st.Tokens[tokenViewState] = state
					return nil
				},
			},
			{
				Name: "request-certificate",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					state := st.Tokens[tokenViewState]
					return s.post(st, studyService+"&_flowExecutionKey="+url.QueryEscape(state), portal.FormEncode(
						[2]string{"activePageElementId", ""},
						[2]string{"refreshButtonClickedId", ""},
						[2]string{"navigationPosition", studyNavigation},
						[2]string{"authenticity_token", st.Tokens[tokenAuth]},
						[2]string{"autoScroll", ""},
						[2]string{"studyserviceForm:fieldsetInforReport:collapsiblePanelCollapsedState", "true"},
						[2]string{"studyserviceForm:fieldsetForAktionReports:collapsiblePanelCollapsedState", "false"},
						[2]string{"studyserviceForm:bescheinigung:reports:collapsiblePanelCollapsedState", "false"},
						[2]string{"studyserviceForm_SUBMIT", "1"},
						[2]string{"javax.faces.ViewState", state},
						[2]string{"javax.faces.behavior.event", "action"},
						[2]string{"javax.faces.partial.event", "click"},
						[2]string{"javax.faces.source", certificateJob},
						[2]string{"javax.faces.partial.ajax", "true"},
						[2]string{"javax.faces.partial.execute", certificateJob},
						[2]string{"javax.faces.partial.render", "studyserviceForm:bescheinigung:reports:reportButtons:jobConfigurationButtonsOverlay studyserviceForm:bescheinigung:reports:reportButtons:jobDownload studyserviceForm:messages-infobox"},
						[2]string{"studyserviceForm", "studyserviceForm"},
					), true), nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					st.Cookies.MergeHead(res.Head)
					doc := parsePage(res.Body)
					href, err := doc.Attr("a.downloadFile.unsichtbar", "href")
					if err != nil || href == "" {
						return portal.MissingOnPage(doc, "certificate download link", htmlutil.ErrNoMatch)
					}
					st.Tokens[tokenDownload] = href
					return nil
				},
			},
			{
				Name: "download",
				Request: func(st *portal.State) (portal.RequestSpec, error) {
					href, err := st.Token(tokenDownload)
					if err != nil {
						return portal.RequestSpec{}, err
					}
					link, err := url.Parse(href)
					if err != nil {
						return portal.RequestSpec{}, portal.ScrapeError(fmt.Errorf("download link: %w", err))
					}
					return portal.RequestSpec{
						URL:             s.baseURL.ResolveReference(link).String(),
						Method:          http.MethodGet,
						Headers:         s.headers(st, false),
						FollowRedirects: true,
					}, nil
				},
				Handle: func(_ context.Context, st *portal.State, res portal.Response) error {
					if !bytes.HasPrefix(res.Body, []byte("%PDF")) {
						return portal.MissingOnPage(htmlutil.Parse(res.Body), "certificate", ErrNotPDF)
					}
					st.Result = res.Body
					return nil
				},
			},
		},
	}
}

// Certificate returns the enrollment certificate as PDF bytes.
func (s Scraper) Certificate(ctx context.Context, creds portal.Credentials) ([]byte, error) {
	state, err := s.Flow(creds).Run(ctx, s.transport, s.tel)
	if err != nil {
		portal.Report(s.tel, report_hisinone_certificate, err)
		return nil, err
	}
	return state.Result.([]byte), nil
}
