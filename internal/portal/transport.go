package portal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultUserAgent    = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"
	defaultMaxRedirects = 10
)

// RequestSpec describes a single HTTP call of a flow step.
type RequestSpec struct {
	URL    string
	Method string
	// Body is sent verbatim on POST and never on GET.
	Body string
	// Headers are raw "Name: value" lines.
	Headers                []string
	IncludeResponseHeaders bool
	FollowRedirects        bool
	// Timeout defaults to DefaultTimeout when zero.
	Timeout time.Duration
	// Charset decodes the body from the given charset into UTF-8 when set.
	Charset string
}

// Response is what a portal answered. A response is never an error by itself, even
// when the page tells the user that something went wrong.
type Response struct {
	StatusCode int
	// Head holds the raw header blocks of every response in the redirect chain,
	// only filled when IncludeResponseHeaders was set.
	Head string
	Body []byte
}

// Transport executes exactly one HTTP request per Send call and keeps no cookies.
//
// note: fault injection point
type Transport interface {
	Send(ctx context.Context, spec RequestSpec) (Response, error)
}

type TransportConfig struct {
	UserAgent string
	// RequestsPerSecond limits outgoing requests across all flows, 0 disables the limit.
	RequestsPerSecond float64
	CloudflareBypass  bool
	// Timeout applies to requests that do not set their own, DefaultTimeout when zero.
	Timeout time.Duration
	Dump    *telemetry.FilesystemOutput
}

// RestyTransport is the Transport used in production, safe for concurrent use.
type RestyTransport struct {
	follow   *resty.Client
	noFollow *resty.Client
	timeout  time.Duration
}

type redirectLogKeyType int

var redirectLogKey redirectLogKeyType

// redirectLog collects the header blocks of the intermediate responses of a redirect chain.
type redirectLog struct {
	mu     sync.Mutex
	blocks []string
}

func (l *redirectLog) add(block string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append(l.blocks, block)
}

func NewRestyTransport(config TransportConfig, tel telemetry.API) *RestyTransport {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("portal_transport", tel)

	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &RestyTransport{
		follow:   newRestyClient(config, limiter, tel, true),
		noFollow: newRestyClient(config, limiter, tel, false),
		timeout:  config.Timeout,
	}
}

func newRestyClient(config TransportConfig, limiter *rate.Limiter, tel telemetry.API, follow bool) *resty.Client {
	client := resty.New()
	// cookies are owned by the flow's Jar, never by the client
	client.SetCookieJar(nil)
	if config.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("User-Agent", config.UserAgent)

	if follow {
		client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) >= defaultMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", defaultMaxRedirects)
			}
			log, ok := req.Context().Value(redirectLogKey).(*redirectLog)
			if ok && req.Response != nil {
				log.add(formatHead(req.Response))
			}
			return nil
		}))
	} else {
		client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	}

	telemetry.InstrumentResty(client, tel, config.Dump)

	if limiter != nil {
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}
	return client
}

func formatHead(res *http.Response) string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%s %s\r\n", res.Proto, res.Status))

	keys := make([]string, 0, len(res.Header))
	for k := range res.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range res.Header[k] {
			out.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
		}
	}
	out.WriteString("\r\n")
	return out.String()
}

func parseHeaderLines(lines []string) map[string]string {
	headers := map[string]string{}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func (t *RestyTransport) Send(ctx context.Context, spec RequestSpec) (Response, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := &redirectLog{}
	ctx = context.WithValue(ctx, redirectLogKey, log)

	client := t.noFollow
	if spec.FollowRedirects {
		client = t.follow
	}

	headers := parseHeaderLines(spec.Headers)
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	req := client.R().
		SetContext(ctx).
		SetHeaders(headers)
	if method == http.MethodPost {
		// a raw string body is form encoded unless a step says otherwise
		if !hasHeader(headers, "Content-Type") {
			req.SetHeader("Content-Type", "application/x-www-form-urlencoded")
		}
		req.SetBody(spec.Body)
	}

	res, err := req.Execute(method, spec.URL)
	if err != nil {
		return Response{}, &TransportError{Method: method, URL: spec.URL, Err: err}
	}

	body := res.Body()
	if spec.Charset != "" {
		decoded, err := decodeCharset(spec.Charset, body)
		if err != nil {
			return Response{}, &TransportError{Method: method, URL: spec.URL, Err: err}
		}
		body = decoded
	}

	out := Response{
		StatusCode: res.StatusCode(),
		Body:       body,
	}
	if spec.IncludeResponseHeaders {
		log.mu.Lock()
		out.Head = strings.Join(log.blocks, "") + formatHead(res.RawResponse)
		log.mu.Unlock()
	}
	return out, nil
}

func decodeCharset(label string, body []byte) ([]byte, error) {
	reader, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", label, err)
	}
	return io.ReadAll(reader)
}
