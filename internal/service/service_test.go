package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/portal/portaltest"
	"htwg-backend/internal/scrapers/canteen"
	"htwg-backend/internal/scrapers/hisinone"
	"htwg-backend/internal/scrapers/htwgweb"
	"htwg-backend/internal/scrapers/lsf"
	"htwg-backend/internal/scrapers/printer"
	"htwg-backend/internal/scrapers/qis"

	"github.com/stretchr/testify/require"
)

var (
	testClock = chrono.NewFixedImpl(time.Date(2024, 10, 1, 12, 0, 0, 0, chrono.Berlin))
	testCreds = portal.Credentials{Username: "max", Password: "geheim"}
)

func newTestService(t testing.TB, transport portal.Transport, options ...Option) (Service, *telemetry.Recorder) {
	rec := &telemetry.Recorder{}
	q, err := qis.NewScraper("", transport, rec)
	require.NoError(t, err)
	l, err := lsf.NewScraper("", transport, rec)
	require.NoError(t, err)
	h, err := hisinone.NewScraper("", transport, testClock, rec)
	require.NoError(t, err)

	options = append([]Option{WithCustomTelemetryAPI(rec)}, options...)
	return NewService(Scrapers{
		Printer:     printer.NewScraper("", transport, rec),
		Grades:      q,
		Timetable:   l,
		Certificate: h,
		Canteen:     canteen.NewScraper("", transport, cache.Disabled{}, testClock, rec),
		Web:         htwgweb.NewScraper(htwgweb.Pages{}, transport, rec),
	}, options...), rec
}

const gradesLink = `<html><body><a href="/qisserver/rds?state=notenspiegel&amp;next=list.vm">Notenspiegel über alle bestandenen Leistungen</a></body></html>`

const gradesTable = `<html><body><table>
<tr><th class="tabelle1"><span>Prüfungsnummer</span></th></tr>
<tr><td class="tabelle1">1010</td><td class="tabelle1">Mathematik 1</td><td class="tabelle1">WiSe 23/24</td><td class="tabelle1">1,7</td><td class="tabelle1">8</td><td class="tabelle1">bestanden</td></tr>
<tr><td class="tabelle1">80000</td><td class="tabelle1">Durchschnitt</td><td class="tabelle1"></td><td class="tabelle1">1,7</td><td class="tabelle1">8</td><td class="tabelle1"></td></tr>
</table></body></html>`

// qisPortal answers the four QIS steps, the last one with gradesPage.
func qisPortal(gradesPage string) *portaltest.FakeTransport {
	return &portaltest.FakeTransport{
		Respond: func(call int, spec portal.RequestSpec) (portal.Response, error) {
			switch call {
			case 1:
				return portal.Response{
					StatusCode: 200,
					Head:       "HTTP/1.1 200 OK\r\nSet-Cookie: JSESSIONID=qis-1; Path=/qisserver\r\n",
				}, nil
			case 2:
				return portal.Response{StatusCode: 302}, nil
			case 3:
				return portal.Response{StatusCode: 200, Body: []byte(gradesLink)}, nil
			default:
				return portal.Response{StatusCode: 200, Body: []byte(gradesPage)}, nil
			}
		},
	}
}

func TestStatusOf(t *testing.T) {
	testCases := []struct {
		err      error
		expected int
	}{
		{err: nil, expected: 200},
		{err: &portal.TransportError{Method: "GET", URL: "https://example.com", Err: context.DeadlineExceeded}, expected: 502},
		{err: portal.AuthError("login form"), expected: 403},
		{err: portal.ScrapeError(errors.New("no table")), expected: 500},
		{err: &portal.Error{Kind: portal.KindSerialization, Err: errors.New("bad")}, expected: 500},
		{err: portal.InvalidArgument("type"), expected: 400},
		{err: errors.New("something else"), expected: 500},
		{err: &portal.Error{Kind: portal.KindScrape, Err: &portal.StatusError{Status: 503}}, expected: 503},
		{err: &portal.Error{Kind: portal.KindScrape, Err: &portal.StatusError{Status: 404}}, expected: 404},
		{err: &portal.Error{Kind: portal.KindAuthentication, Err: &portal.StatusError{Status: 401}}, expected: 403},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, StatusOf(test.err), "%v", test.err)
	}
}

func TestPrinterBalance(t *testing.T) {
	s, _ := newTestService(t, portaltest.Pages(`<p>Aktuelles Guthaben: 12,50 EUR</p>`))

	res := s.PrinterBalance(context.Background(), testCreds)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "12,50", string(res.Payload))
	require.Equal(t, ContentText, res.ContentType)
}

func TestUnreachablePortal(t *testing.T) {
	transport := portaltest.Unreachable()
	s, rec := newTestService(t, transport)

	res := s.PrinterBalance(context.Background(), testCreds)
	require.Equal(t, 502, res.StatusCode)
	require.NotEqual(t, 500, res.StatusCode)
	require.Empty(t, res.Payload)
	require.Equal(t, 1, transport.Calls())
	require.NotEmpty(t, rec.Reports(telemetry.KindBroken))
}

func TestPortalErrorStatus(t *testing.T) {
	testCases := []struct {
		portal   int
		expected int
	}{
		{portal: 503, expected: 503},
		{portal: 401, expected: 403},
	}
	for _, test := range testCases {
		transport := &portaltest.FakeTransport{
			Respond: func(int, portal.RequestSpec) (portal.Response, error) {
				return portal.Response{StatusCode: test.portal, Body: []byte("Wartungsarbeiten")}, nil
			},
		}
		s, _ := newTestService(t, transport)

		res := s.PrinterBalance(context.Background(), testCreds)
		require.Equal(t, test.expected, res.StatusCode)
		require.Empty(t, res.Payload)
		require.Equal(t, 1, transport.Calls())
	}
}

func TestGrades(t *testing.T) {
	transport := qisPortal(gradesTable)
	s, _ := newTestService(t, transport)

	res := s.Grades(context.Background(), testCreds)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, ContentJSON, res.ContentType)
	require.JSONEq(t,
		`[{"number":"1010","name":"Mathematik 1","semester":"WiSe 23/24","grade":"1,7","ects":"8","status":"bestanden"}]`,
		string(res.Payload),
	)

	specs := transport.Specs()
	require.Equal(t, "https://qisserver.htwg-konstanz.de/qisserver/rds?state=notenspiegel&next=list.vm", specs[3].URL)
	require.Contains(t, specs[3].Headers, "Cookie: JSESSIONID=qis-1")
}

func TestGradesWithoutTable(t *testing.T) {
	s, rec := newTestService(t, qisPortal(`<html><body><p>Keine Leistungen gefunden.</p></body></html>`))

	res := s.Grades(context.Background(), testCreds)
	require.Equal(t, 500, res.StatusCode)
	require.Empty(t, res.Payload)
	require.Len(t, rec.Reports(telemetry.KindBroken), 1)
}

func TestGradesEmptyTable(t *testing.T) {
	s, rec := newTestService(t, qisPortal(`<table><tr><td><span>Prüfungsnummer</span></td></tr></table>`))

	res := s.Grades(context.Background(), testCreds)
	require.Equal(t, 500, res.StatusCode)
	require.Empty(t, res.Payload)
	require.Len(t, rec.Reports(telemetry.KindBroken), 1)
}

func TestMissingCredentials(t *testing.T) {
	transport := portaltest.Pages("")
	s, rec := newTestService(t, transport)

	for _, res := range []Result{
		s.PrinterBalance(context.Background(), portal.Credentials{Username: "max"}),
		s.Grades(context.Background(), portal.Credentials{}),
		s.Timetable(context.Background(), portal.Credentials{Password: "hunter2"}, lsf.TimetableRequest{}),
		s.Certificate(context.Background(), portal.Credentials{}),
	} {
		require.Equal(t, 400, res.StatusCode)
	}
	require.Equal(t, 0, transport.Calls())

	warnings := rec.Reports(telemetry.KindWarning)
	require.Len(t, warnings, 4)
	for _, report := range warnings {
		require.NotContains(t, fmt.Sprint(report.Params...), "hunter2")
	}
}

func TestTimetableInvalidType(t *testing.T) {
	transport := portaltest.Pages("")
	s, _ := newTestService(t, transport)

	res := s.Timetable(context.Background(), testCreds, lsf.TimetableRequest{Type: "ical"})
	require.Equal(t, 400, res.StatusCode)
	require.Equal(t, 0, transport.Calls())
}

type fakeCertificate []byte

func (f fakeCertificate) Certificate(context.Context, portal.Credentials) ([]byte, error) {
	return f, nil
}

func TestCertificate(t *testing.T) {
	s, _ := newTestService(t, portaltest.Pages(""))
	s.scrapers.Certificate = fakeCertificate("%PDF-1.4")

	res := s.Certificate(context.Background(), testCreds)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, ContentPDF, res.ContentType)
	require.Equal(t, hisinone.Filename, res.Filename)
	require.Equal(t, "%PDF-1.4", string(res.Payload))
}

func TestSerializationFailure(t *testing.T) {
	failing := func(any) ([]byte, error) {
		return nil, errors.New("unsupported value")
	}
	s, rec := newTestService(t, qisPortal(gradesTable), WithCustomEncoder(failing))

	res := s.Grades(context.Background(), testCreds)
	require.Equal(t, 500, res.StatusCode)
	require.Empty(t, res.Payload)

	broken := rec.Reports(telemetry.KindBroken)
	require.Len(t, broken, 1)
	require.Equal(t, "service: "+report_serialize, broken[0].ID)
}

func TestCafeInfo(t *testing.T) {
	page := `<p>Öffnungszeiten: 9 bis 16 Uhr</p><ul><li>Kaffee: 1,20 €</li></ul>`
	transport := portaltest.Pages(page)
	s, _ := newTestService(t, transport)

	res := s.CafeInfo(context.Background(), "preise")
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, ContentJSON, res.ContentType)
	require.JSONEq(t, `[{"name":"Kaffee","price":"1,20 €"}]`, string(res.Payload))

	res = s.CafeInfo(context.Background(), "zeiten")
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, ContentHTML, res.ContentType)
	require.True(t, strings.HasPrefix(string(res.Payload), "<p>Öffnungszeiten"))

	res = s.CafeInfo(context.Background(), "kuchen")
	require.Equal(t, 400, res.StatusCode)
	require.Equal(t, 2, transport.Calls())
}

func TestCanteenMenu(t *testing.T) {
	s, _ := newTestService(t, portaltest.Pages(`<speiseplan><tag timestamp="1727733600"><item><title>Linsen</title></item></tag></speiseplan>`))

	res := s.CanteenMenu(context.Background())
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, ContentJSON, res.ContentType)
	require.JSONEq(t,
		`{"01.10.2024":{"items":[{"category":"","title":"Linsen","price":["","","",""],"kind":""}]}}`,
		string(res.Payload),
	)
}

func TestExamDates(t *testing.T) {
	s, _ := newTestService(t, portaltest.Pages(`<div id="fristen"><h2>Termine</h2></div>`))

	res := s.ExamDates(context.Background())
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, `<div id="fristen"><h2>Termine</h2></div>`, string(res.Payload))
}
