package service

import (
	"context"
	"encoding/json"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/scrapers/hisinone"
	"htwg-backend/internal/scrapers/htwgweb"
	"htwg-backend/internal/scrapers/lsf"
	"htwg-backend/internal/scrapers/qis"
)

const (
	ContentJSON = "application/json; charset=utf-8"
	ContentHTML = "text/html; charset=utf-8"
	ContentText = "text/plain; charset=utf-8"
	ContentPDF  = "application/pdf"
)

const (
	report_serialize       = "serialize"
	report_bad_credentials = "bad-credentials"
	report_result          = "result"
)

// Result is what a caller gets back from any flow. Payload is empty whenever
// StatusCode is not 200.
type Result struct {
	StatusCode  int
	Payload     []byte
	ContentType string
	// Filename is set when the payload should be offered as a download.
	Filename string
}

func (r Result) OK() bool {
	return r.StatusCode == 200
}

type PrinterAPI interface {
	Balance(ctx context.Context, creds portal.Credentials) (string, error)
}

type GradesAPI interface {
	Grades(ctx context.Context, creds portal.Credentials) ([]qis.Grade, error)
}

type TimetableAPI interface {
	Timetable(ctx context.Context, creds portal.Credentials, req lsf.TimetableRequest) ([]byte, error)
}

type CertificateAPI interface {
	Certificate(ctx context.Context, creds portal.Credentials) ([]byte, error)
}

type CanteenAPI interface {
	// MenuJSON returns the already encoded menu, it may come from a cache.
	MenuJSON(ctx context.Context) ([]byte, error)
}

type WebAPI interface {
	ExamDates(ctx context.Context) (string, error)
	CafeOpeningHours(ctx context.Context) (string, error)
	CafePrices(ctx context.Context) ([]htwgweb.Price, error)
}

// Scrapers is every flow the service can run.
type Scrapers struct {
	Printer     PrinterAPI
	Grades      GradesAPI
	Timetable   TimetableAPI
	Certificate CertificateAPI
	Canteen     CanteenAPI
	Web         WebAPI
}

// EncodeFunc turns a scraped value into a JSON payload.
//
// note: fault injection point
type EncodeFunc = func(v any) ([]byte, error)

type Service struct {
	scrapers Scrapers
	encode   EncodeFunc
	tel      telemetry.API
}

type serviceConfig struct {
	encode EncodeFunc
	tel    telemetry.API
}

type Option func(cfg *serviceConfig)

func WithCustomTelemetryAPI(tel telemetry.API) Option {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

func WithCustomEncoder(encode EncodeFunc) Option {
	return func(cfg *serviceConfig) {
		cfg.encode = encode
	}
}

// NewService wraps the scrapers so that every outcome becomes a Result.
func NewService(scrapers Scrapers, options ...Option) Service {
	assert.NotNil(scrapers.Printer)
	assert.NotNil(scrapers.Grades)
	assert.NotNil(scrapers.Timetable)
	assert.NotNil(scrapers.Certificate)
	assert.NotNil(scrapers.Canteen)
	assert.NotNil(scrapers.Web)

	cfg := serviceConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	s := Service{
		scrapers: scrapers,
		encode:   json.Marshal,
		tel:      telemetry.SlogAPI{},
	}
	if cfg.encode != nil {
		s.encode = cfg.encode
	}
	if cfg.tel != nil {
		s.tel = cfg.tel
	}
	s.tel = telemetry.NewScopedAPI("service", s.tel)
	return s
}

// StatusOf maps a flow error to the status a caller sees. A portal that answered
// with an error status hands that status on, rejected logins are always 403.
func StatusOf(err error) int {
	if err == nil {
		return 200
	}
	kind := portal.KindOf(err)
	if status, ok := portal.PortalStatus(err); ok && kind == portal.KindScrape {
		return status
	}
	switch kind {
	case portal.KindTransport:
		return 502
	case portal.KindAuthentication:
		return 403
	case portal.KindInvalidArgument:
		return 400
	default:
		return 500
	}
}

func (s Service) fail(flow string, err error) Result {
	status := StatusOf(err)
	s.tel.ReportCount(report_result+"."+flow+"."+portal.KindOf(err).String(), 1)
	return Result{StatusCode: status}
}

func (s Service) ok(flow string, payload []byte, contentType string) Result {
	s.tel.ReportCount(report_result+"."+flow+".ok", 1)
	return Result{StatusCode: 200, Payload: payload, ContentType: contentType}
}

func (s Service) jsonResult(flow string, value any) Result {
	payload, err := s.encode(value)
	if err != nil {
		err = &portal.Error{Kind: portal.KindSerialization, Flow: flow, Err: err}
		s.tel.ReportBroken(report_serialize, err)
		return s.fail(flow, err)
	}
	return s.ok(flow, payload, ContentJSON)
}

func (s Service) checkCredentials(flow string, creds portal.Credentials) (Result, bool) {
	if creds.Valid() {
		return Result{}, true
	}
	s.tel.ReportWarning(report_bad_credentials, flow, creds)
	return s.fail(flow, portal.InvalidArgument("username and password are required")), false
}

func (s Service) PrinterBalance(ctx context.Context, creds portal.Credentials) Result {
	if res, ok := s.checkCredentials("printer", creds); !ok {
		return res
	}
	balance, err := s.scrapers.Printer.Balance(ctx, creds)
	if err != nil {
		return s.fail("printer", err)
	}
	return s.ok("printer", []byte(balance), ContentText)
}

func (s Service) Grades(ctx context.Context, creds portal.Credentials) Result {
	if res, ok := s.checkCredentials("qis", creds); !ok {
		return res
	}
	grades, err := s.scrapers.Grades.Grades(ctx, creds)
	if err != nil {
		return s.fail("qis", err)
	}
	return s.jsonResult("qis", grades)
}

func (s Service) Timetable(ctx context.Context, creds portal.Credentials, req lsf.TimetableRequest) Result {
	if res, ok := s.checkCredentials("lsf", creds); !ok {
		return res
	}
	page, err := s.scrapers.Timetable.Timetable(ctx, creds, req)
	if err != nil {
		return s.fail("lsf", err)
	}
	return s.ok("lsf", page, ContentHTML)
}

func (s Service) Certificate(ctx context.Context, creds portal.Credentials) Result {
	if res, ok := s.checkCredentials("hisinone", creds); !ok {
		return res
	}
	pdf, err := s.scrapers.Certificate.Certificate(ctx, creds)
	if err != nil {
		return s.fail("hisinone", err)
	}
	res := s.ok("hisinone", pdf, ContentPDF)
	res.Filename = hisinone.Filename
	return res
}

func (s Service) CanteenMenu(ctx context.Context) Result {
	menu, err := s.scrapers.Canteen.MenuJSON(ctx)
	if err != nil {
		return s.fail("canteen", err)
	}
	return s.ok("canteen", menu, ContentJSON)
}

func (s Service) ExamDates(ctx context.Context) Result {
	section, err := s.scrapers.Web.ExamDates(ctx)
	if err != nil {
		return s.fail("exam-dates", err)
	}
	return s.ok("exam-dates", []byte(section), ContentHTML)
}

// CafeInfo returns the opening hours ("zeiten") as HTML or the price list
// ("preise") as JSON.
func (s Service) CafeInfo(ctx context.Context, kind string) Result {
	parsed, err := htwgweb.ParseCafeKind(kind)
	if err != nil {
		return s.fail("cafe", err)
	}

	switch parsed {
	case htwgweb.CafeHours:
		hours, err := s.scrapers.Web.CafeOpeningHours(ctx)
		if err != nil {
			return s.fail("cafe", err)
		}
		return s.ok("cafe", []byte(hours), ContentHTML)
	default:
		prices, err := s.scrapers.Web.CafePrices(ctx)
		if err != nil {
			return s.fail("cafe", err)
		}
		return s.jsonResult("cafe", prices)
	}
}
