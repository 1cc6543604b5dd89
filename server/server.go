// Package server exposes a port.Controller over HTTP, so out-of-process
// clients can drive a simulated registry and wait for its events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/capatazlib/go-portwatch/port"
	"github.com/capatazlib/go-portwatch/server/api"
	"github.com/capatazlib/go-portwatch/watcher"
)

// DefaultWaitTimeout is used by the next event endpoint when the client does
// not send a timeout
const DefaultWaitTimeout = 30 * time.Second

// Server is the HTTP management server of a simulated port registry
type Server struct {
	ll       logrus.FieldLogger
	ctrl     port.Controller
	gatherer prometheus.Gatherer

	mu       sync.Mutex
	watchers map[string]*watcher.EventWatcher
}

// Opt allows clients to tweak the behavior of a Server
type Opt func(*Server)

// WithGatherer exposes the metrics of the given gatherer on /metrics
func WithGatherer(g prometheus.Gatherer) Opt {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a new HTTP management server over the given controller
func NewServer(ll logrus.FieldLogger, ctrl port.Controller, opts ...Opt) *Server {
	s := &Server{
		ll:       ll,
		ctrl:     ctrl,
		watchers: make(map[string]*watcher.EventWatcher),
	}
	for _, optFn := range opts {
		optFn(s)
	}
	return s
}

// NewHTTPHandler creates a `http.Handler` with endpoints that access the port
// registry.
func (s *Server) NewHTTPHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ports", s.listPorts).Methods("GET")
	r.HandleFunc("/ports", s.addPort).Methods("POST")
	r.HandleFunc("/ports/{token}", s.getPort).Methods("GET")
	r.HandleFunc("/ports/{token}/connected", s.setConnected).Methods("PUT")
	r.HandleFunc("/watchers", s.createWatcher).Methods("POST")
	r.HandleFunc("/watchers/{id}/next", s.nextEvent).Methods("GET")
	r.HandleFunc("/watchers/{id}", s.removeWatcher).Methods("DELETE")
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}

// Close closes every watcher created through the API; pending long-polls are
// released.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watchers {
		w.Close()
		delete(s.watchers, id)
	}
}

func handleError(resp http.ResponseWriter, err error, code int) {
	data, _ := json.Marshal(api.Error{Error: err.Error()})
	resp.Header().Set("Content-Type", "application/json")
	http.Error(resp, string(data), code)
}

func (s *Server) writeJSON(resp http.ResponseWriter, code int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		handleError(resp, err, http.StatusInternalServerError)
		return
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(code)
	if _, err = resp.Write(data); err != nil {
		s.ll.WithError(err).Warn("failed to write response to client")
	}
}

func toAPIPort(p *port.Port) api.Port {
	return api.Port{Token: string(p.Token()), Connected: p.Connected()}
}

func kindStrings(kinds []port.Kind) []string {
	acc := make([]string, 0, len(kinds))
	for _, k := range kinds {
		acc = append(acc, string(k))
	}
	return acc
}

func (s *Server) listPorts(response http.ResponseWriter, request *http.Request) {
	ports, err := s.ctrl.GetPorts(request.Context())
	if err != nil {
		handleError(response, err, http.StatusInternalServerError)
		return
	}
	ps := api.Ports{Ports: make([]api.Port, 0, len(ports))}
	for _, p := range ports {
		ps.Ports = append(ps.Ports, toAPIPort(p))
	}
	s.writeJSON(response, http.StatusOK, ps)
}

func (s *Server) getPort(response http.ResponseWriter, request *http.Request) {
	p, err := s.ctrl.GetPort(port.Token(mux.Vars(request)["token"]))
	if errors.Is(err, &port.NotFoundError{}) {
		handleError(response, err, http.StatusNotFound)
		return
	}
	if err != nil {
		handleError(response, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(response, http.StatusOK, toAPIPort(p))
}

func (s *Server) addPort(response http.ResponseWriter, request *http.Request) {
	var body api.AddPort
	if request.ContentLength != 0 {
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			handleError(response, fmt.Errorf("invalid body: %w", err), http.StatusBadRequest)
			return
		}
	}

	var opts []port.AddOpt
	if body.Connected != nil {
		opts = append(opts, port.WithConnected(*body.Connected))
	}
	token := s.ctrl.AddPort(opts...)

	p, err := s.ctrl.GetPort(token)
	if err != nil {
		handleError(response, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(response, http.StatusCreated, toAPIPort(p))
}

func (s *Server) setConnected(response http.ResponseWriter, request *http.Request) {
	token := port.Token(mux.Vars(request)["token"])

	var body api.ConnectedState
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		handleError(response, fmt.Errorf("invalid body: %w", err), http.StatusBadRequest)
		return
	}

	err := s.ctrl.SetPortConnectedState(token, body.Connected)
	if errors.Is(err, &port.NotFoundError{}) {
		handleError(response, err, http.StatusNotFound)
		return
	}
	if err != nil {
		handleError(response, err, http.StatusInternalServerError)
		return
	}
	response.WriteHeader(http.StatusNoContent)
}

func (s *Server) createWatcher(response http.ResponseWriter, request *http.Request) {
	var body api.NewWatcher
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		handleError(response, fmt.Errorf("invalid body: %w", err), http.StatusBadRequest)
		return
	}

	kinds := make([]port.Kind, 0, len(body.Kinds))
	for _, input := range body.Kinds {
		k, err := port.ParseKind(input)
		if err != nil {
			handleError(response, err, http.StatusBadRequest)
			return
		}
		kinds = append(kinds, k)
	}

	id := uuid.NewString()
	w, err := watcher.New(s.ctrl, kinds, watcher.WithLogger(s.ll.WithField("watcher.id", id)))
	if err != nil {
		handleError(response, err, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.watchers[id] = w
	s.mu.Unlock()

	s.ll.WithFields(logrus.Fields{
		"watcher.id":    id,
		"watcher.kinds": body.Kinds,
	}).Debug("watcher created")

	s.writeJSON(response, http.StatusCreated, api.Watcher{ID: id, Kinds: kindStrings(w.Kinds())})
}

func (s *Server) lookupWatcher(id string) (*watcher.EventWatcher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watchers[id]
	return w, ok
}

func (s *Server) nextEvent(response http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	w, ok := s.lookupWatcher(id)
	if !ok {
		handleError(response, fmt.Errorf("watcher not found: %q", id), http.StatusNotFound)
		return
	}

	query := request.URL.Query()
	kinds, err := port.ParseKinds(query.Get("kinds"))
	if err != nil {
		handleError(response, err, http.StatusBadRequest)
		return
	}

	timeout := DefaultWaitTimeout
	if input := query.Get("timeout"); input != "" {
		timeout, err = time.ParseDuration(input)
		if err != nil || timeout <= 0 {
			handleError(response, fmt.Errorf("invalid timeout: %q", input), http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(request.Context(), timeout)
	defer cancel()

	ev, err := w.WaitFor(ctx, kinds...)
	switch {
	case err == nil:
	case errors.Is(err, &port.UnknownKindError{}):
		handleError(response, err, http.StatusBadRequest)
		return
	case errors.Is(err, watcher.ErrWaitInProgress):
		handleError(response, err, http.StatusConflict)
		return
	case errors.Is(err, watcher.ErrClosed):
		handleError(response, err, http.StatusGone)
		return
	case errors.Is(err, context.DeadlineExceeded):
		handleError(response, err, http.StatusRequestTimeout)
		return
	default:
		handleError(response, err, http.StatusInternalServerError)
		return
	}

	// the target state is reported as of the event, not as of the response
	s.writeJSON(response, http.StatusOK, api.Event{
		Kind: string(ev.Kind),
		Seq:  ev.Seq,
		Target: api.Port{
			Token:     string(ev.Target.Token()),
			Connected: ev.Kind == port.Connect,
		},
		Created: ev.Created,
	})
}

func (s *Server) removeWatcher(response http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]

	s.mu.Lock()
	w, ok := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	if !ok {
		handleError(response, fmt.Errorf("watcher not found: %q", id), http.StatusNotFound)
		return
	}
	w.Close()
	response.WriteHeader(http.StatusNoContent)
}
