package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: false, Timeout: time.Second})
	collector := f.buildCollector(tracker.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0),
		&tracker.FetchResponse{}, new(error))

	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.ParseHTTPErrorResponse)
	require.True(t, collector.AllowURLRevisit)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{AcceptLanguage: "tr-TR"})
	req := tracker.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"If-None-Match": {`"abc"`}},
	}
	var result tracker.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, `"abc"`, collyReq.Headers.Get("If-None-Match"))
	require.Equal(t, "tr-TR", collyReq.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotModified,
		Body:       []byte("body"),
		Headers:    &http.Header{"Etag": {`"abc"`}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusNotModified, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, `"abc"`, result.Headers.Get("ETag"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetcherGetSurfacesEveryStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cached":
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte("<html>fresh</html>"))
		case "/busy":
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "pricewatch-test", Timeout: 5 * time.Second})
	ctx := context.Background()

	resp, err := f.Get(ctx, tracker.FetchRequest{URL: srv.URL + "/cached"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `"v1"`, resp.Headers.Get("ETag"))
	require.Equal(t, "<html>fresh</html>", string(resp.Body))

	resp, err = f.Get(ctx, tracker.FetchRequest{
		URL:     srv.URL + "/cached",
		Headers: http.Header{"If-None-Match": {`"v1"`}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp, err = f.Get(ctx, tracker.FetchRequest{URL: srv.URL + "/busy"})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "5", resp.Headers.Get("Retry-After"))

	resp, err = f.Get(ctx, tracker.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetcherGetHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx, tracker.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcherGetTransportError(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Get(context.Background(), tracker.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
