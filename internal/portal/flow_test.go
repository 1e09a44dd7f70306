package portal_test

import (
	"context"
	"errors"
	"testing"

	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/portal/portaltest"
	"htwg-backend/pkg/htmlutil"

	"github.com/stretchr/testify/require"
)

func twoStepFlow() portal.Flow {
	return portal.Flow{
		Name: "test",
		Steps: []portal.Step{
			{
				Name: "login",
				Request: func(s *portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{URL: "https://portal.test/login", Method: "POST", IncludeResponseHeaders: true}, nil
				},
				Handle: func(_ context.Context, s *portal.State, res portal.Response) error {
					s.Cookies.MergeHead(res.Head)
					return nil
				},
			},
			{
				Name: "fetch",
				Request: func(s *portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{URL: "https://portal.test/data", Method: "GET", Headers: s.CookieHeaders()}, nil
				},
				Handle: func(_ context.Context, s *portal.State, res portal.Response) error {
					doc := htmlutil.Parse(res.Body)
					value, err := doc.Attr("#result", "data-value")
					if err != nil {
						return portal.MissingOnPage(doc, "result", err)
					}
					s.Result = value
					return nil
				},
			},
		},
	}
}

func TestFlowRun(t *testing.T) {
	transport := &portaltest.FakeTransport{
		Respond: func(call int, spec portal.RequestSpec) (portal.Response, error) {
			if call == 1 {
				return portal.Response{StatusCode: 302, Head: "Set-Cookie: sid=1; Path=/\r\n"}, nil
			}
			return portal.Response{StatusCode: 200, Body: []byte(`<div id="result" data-value="42"></div>`)}, nil
		},
	}

	state, err := twoStepFlow().Run(context.Background(), transport, &telemetry.Recorder{})
	require.NoError(t, err)
	require.Equal(t, "42", state.Result)

	specs := transport.Specs()
	require.Len(t, specs, 2)
	require.Empty(t, specs[0].Headers)
	require.Equal(t, []string{"Cookie: sid=1"}, specs[1].Headers)
}

func TestFlowStopsAtTransportError(t *testing.T) {
	transport := portaltest.Unreachable()

	_, err := twoStepFlow().Run(context.Background(), transport, &telemetry.Recorder{})
	require.Error(t, err)
	require.Equal(t, portal.KindTransport, portal.KindOf(err))
	require.Equal(t, 1, transport.Calls())

	var perr *portal.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "test", perr.Flow)
	require.Equal(t, "login", perr.Step)
}

func TestFlowClassifiesMissingArtifacts(t *testing.T) {
	_, err := twoStepFlow().Run(
		context.Background(),
		portaltest.Pages(`<form><input type="password" name="password"></form>`),
		&telemetry.Recorder{},
	)
	require.Equal(t, portal.KindAuthentication, portal.KindOf(err))
	require.True(t, errors.Is(err, portal.ErrLoginRejected))

	_, err = twoStepFlow().Run(
		context.Background(),
		portaltest.Pages(`<p>Wartungsarbeiten</p>`),
		&telemetry.Recorder{},
	)
	require.Equal(t, portal.KindScrape, portal.KindOf(err))
	require.True(t, errors.Is(err, htmlutil.ErrNoMatch))

	var perr *portal.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "fetch", perr.Step)
}

func TestFormEncodeKeepsOrder(t *testing.T) {
	body := portal.FormEncode(
		[2]string{"username", "max muster"},
		[2]string{"password", "p&ss=word"},
		[2]string{"submit", "Anmeldung"},
	)
	require.Equal(t, "username=max+muster&password=p%26ss%3Dword&submit=Anmeldung", body)
}

func TestFlowFailsOnErrorStatus(t *testing.T) {
	transport := &portaltest.FakeTransport{
		Respond: func(int, portal.RequestSpec) (portal.Response, error) {
			return portal.Response{StatusCode: 503, Body: []byte("Wartung")}, nil
		},
	}
	_, err := twoStepFlow().Run(context.Background(), transport, &telemetry.Recorder{})
	require.Equal(t, portal.KindScrape, portal.KindOf(err))
	require.True(t, errors.Is(err, portal.ErrStatus))
	require.Equal(t, 1, transport.Calls())

	status, ok := portal.PortalStatus(err)
	require.True(t, ok)
	require.Equal(t, 503, status)
}

func TestFlowRejectedStatusIsAuthentication(t *testing.T) {
	for _, code := range []int{401, 403} {
		transport := &portaltest.FakeTransport{
			Respond: func(int, portal.RequestSpec) (portal.Response, error) {
				return portal.Response{StatusCode: code}, nil
			},
		}
		_, err := twoStepFlow().Run(context.Background(), transport, &telemetry.Recorder{})
		require.Equal(t, portal.KindAuthentication, portal.KindOf(err))
		status, ok := portal.PortalStatus(err)
		require.True(t, ok)
		require.Equal(t, code, status)
	}

	_, ok := portal.PortalStatus(portal.ScrapeError(errors.New("no table")))
	require.False(t, ok)
}

type ctxKey struct{}

func TestFlowPassesContextToHandlers(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "flow-ctx")
	var seen []any
	flow := portal.Flow{
		Name: "ctx",
		Steps: []portal.Step{
			{
				Name: "only",
				Request: func(*portal.State) (portal.RequestSpec, error) {
					return portal.RequestSpec{URL: "https://example.com", Method: "GET"}, nil
				},
				Handle: func(ctx context.Context, st *portal.State, res portal.Response) error {
					seen = append(seen, ctx.Value(ctxKey{}))
					return nil
				},
			},
		},
	}
	_, err := flow.Run(ctx, portaltest.Pages("ok"), &telemetry.Recorder{})
	require.NoError(t, err)
	require.Equal(t, []any{"flow-ctx"}, seen)
}
