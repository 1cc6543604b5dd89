package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capatazlib/go-portwatch/fake"
	"github.com/capatazlib/go-portwatch/metrics"
	"github.com/capatazlib/go-portwatch/porttest"
	"github.com/capatazlib/go-portwatch/server"
	"github.com/capatazlib/go-portwatch/server/api"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	ll := logrus.New()
	ll.Out = io.Discard

	provider := porttest.StartFake(t, fake.WithMetrics(m))
	srv := server.NewServer(ll, provider, server.WithGatherer(reg))
	ts := httptest.NewServer(srv.NewHTTPHandler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createWatcher(t *testing.T, base string, kinds ...string) api.Watcher {
	t.Helper()
	var w api.Watcher
	code := doJSON(t, "POST", base+"/watchers", api.NewWatcher{Kinds: kinds}, &w)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, w.ID)
	return w
}

func TestPortLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	w := createWatcher(t, ts.URL, "connect", "disconnect")
	assert.Equal(t, []string{"connect", "disconnect"}, w.Kinds)

	var ports api.Ports
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/ports", nil, &ports))
	assert.Empty(t, ports.Ports)

	disconnected := false
	var added api.Port
	require.Equal(t, http.StatusCreated, doJSON(t, "POST", ts.URL+"/ports", api.AddPort{Connected: &disconnected}, &added))
	assert.False(t, added.Connected)

	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/ports", nil, &ports))
	require.Len(t, ports.Ports, 1)
	assert.Equal(t, added, ports.Ports[0])

	var single api.Port
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/ports/"+added.Token, nil, &single))
	assert.Equal(t, added, single)

	// no event queued for a port created disconnected
	code := doJSON(t, "GET", ts.URL+"/watchers/"+w.ID+"/next?timeout=30ms", nil, nil)
	assert.Equal(t, http.StatusRequestTimeout, code)

	code = doJSON(t, "PUT", ts.URL+"/ports/"+added.Token+"/connected", api.ConnectedState{Connected: true}, nil)
	require.Equal(t, http.StatusNoContent, code)

	var ev api.Event
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/watchers/"+w.ID+"/next?kinds=connect&timeout=2s", nil, &ev))
	assert.Equal(t, "connect", ev.Kind)
	assert.Equal(t, added.Token, ev.Target.Token)
	assert.True(t, ev.Target.Connected)
	assert.Equal(t, uint64(1), ev.Seq)

	require.Equal(t, http.StatusNoContent, doJSON(t, "DELETE", ts.URL+"/watchers/"+w.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, "DELETE", ts.URL+"/watchers/"+w.ID, nil, nil))
}

func TestAddPortWithoutBodyIsConnected(t *testing.T) {
	ts := newTestServer(t)
	w := createWatcher(t, ts.URL, "connect")

	resp, err := http.Post(ts.URL+"/ports", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var added api.Port
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&added))
	assert.True(t, added.Connected)

	var ev api.Event
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/watchers/"+w.ID+"/next?timeout=2s", nil, &ev))
	assert.Equal(t, added.Token, ev.Target.Token)
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t)
	w := createWatcher(t, ts.URL, "connect")

	for _, tc := range []struct {
		desc   string
		method string
		path   string
		body   string
		code   int
	}{
		{"unknown token", "PUT", "/ports/nope/connected", `{"connected": true}`, http.StatusNotFound},
		{"unknown port", "GET", "/ports/nope", "", http.StatusNotFound},
		{"bad state body", "PUT", "/ports/nope/connected", `{`, http.StatusBadRequest},
		{"bad add body", "POST", "/ports", `[`, http.StatusBadRequest},
		{"unknown watcher", "GET", "/watchers/nope/next", "", http.StatusNotFound},
		{"unsubscribed kind", "GET", fmt.Sprintf("/watchers/%s/next?kinds=disconnect", w.ID), "", http.StatusBadRequest},
		{"unknown kind", "GET", fmt.Sprintf("/watchers/%s/next?kinds=open", w.ID), "", http.StatusBadRequest},
		{"bad timeout", "GET", fmt.Sprintf("/watchers/%s/next?timeout=soon", w.ID), "", http.StatusBadRequest},
		{"watcher without kinds", "POST", "/watchers", `{"kinds": []}`, http.StatusBadRequest},
		{"watcher with unknown kind", "POST", "/watchers", `{"kinds": ["open"]}`, http.StatusBadRequest},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, body)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.code, resp.StatusCode)

			var apiErr api.Error
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
			assert.NotEmpty(t, apiErr.Error)
		})
	}
}

func TestOverlappingLongPollConflicts(t *testing.T) {
	ts := newTestServer(t)
	w := createWatcher(t, ts.URL, "connect")

	firstCode := make(chan int, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/watchers/" + w.ID + "/next?timeout=500ms")
		if err != nil {
			firstCode <- 0
			return
		}
		resp.Body.Close()
		firstCode <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	code := doJSON(t, "GET", ts.URL+"/watchers/"+w.ID+"/next?timeout=10ms", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, http.StatusRequestTimeout, <-firstCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, "POST", ts.URL+"/ports", api.AddPort{}, &api.Port{}))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `portwatch_events_emitted_total{kind="connect"} 1`)
	assert.Contains(t, string(data), `portwatch_ports{state="connected"} 1`)
}
