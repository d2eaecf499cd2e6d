package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/replay"
	"github.com/arloliu/backsync/types"
)

const (
	adminPrefix = "/_backsync/"

	// entryIDHeader carries the id of a queued request.
	entryIDHeader = "Backsync-Entry-Id"
)

// hopHeaders are connection-specific and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// route is a configured route with its queue.
type route struct {
	RouteConfig
	queue *backsync.Queue
}

// firer fires trigger tags.
type firer interface {
	// fireAll dispatches every armed tag.
	fireAll(ctx context.Context) error
	// fireTag arms tag and dispatches it.
	fireTag(ctx context.Context, tag string) error
}

// server forwards requests upstream and queues the ones that fail to reach it.
type server struct {
	routes       []*route
	coord        *replay.Coordinator
	trigger      firer
	client       *http.Client
	maxBodyBytes int64
	metrics      http.HandlerFunc
	online       func() bool
	log          logrus.FieldLogger
}

// newServer builds the handler. Routes are matched longest prefix first.
func newServer(coord *replay.Coordinator, routes []RouteConfig, trig firer, client *http.Client, log logrus.FieldLogger) (*server, error) {
	s := &server{
		coord:        coord,
		trigger:      trig,
		client:       client,
		maxBodyBytes: 10 << 20,
		online:       func() bool { return true },
		log:          log,
	}

	for _, rc := range routes {
		q, err := coord.Queue(rc.Name)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}
		s.routes = append(s.routes, &route{RouteConfig: rc, queue: q})
	}
	sort.SliceStable(s.routes, func(i, j int) bool {
		return len(s.routes[i].Prefix) > len(s.routes[j].Prefix)
	})

	return s, nil
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_backsync/responses/{id...}", s.handleResponse)
	mux.HandleFunc("DELETE /_backsync/queues/{queue}/entries/{id...}", s.handleAck)
	mux.HandleFunc("GET /_backsync/queues", s.handleQueues)
	mux.HandleFunc("POST /_backsync/replay", s.handleReplay)
	mux.HandleFunc("GET /_backsync/health", s.handleHealth)
	if s.metrics != nil {
		mux.HandleFunc("GET /metrics", s.metrics)
	}
	mux.HandleFunc("/", s.handleProxy)

	return mux
}

func isAdminPath(path string) bool {
	return path == strings.TrimSuffix(adminPrefix, "/") || strings.HasPrefix(path, adminPrefix)
}

func (s *server) match(path string) *route {
	for _, rt := range s.routes {
		if path == rt.Prefix || strings.HasPrefix(path, strings.TrimSuffix(rt.Prefix, "/")+"/") {
			return rt
		}
	}

	return nil
}

func (s *server) handleProxy(w http.ResponseWriter, r *http.Request) {
	// Admin paths without a matching endpoint are never forwarded.
	if isAdminPath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	rt := s.match(r.URL.Path)
	if rt == nil {
		http.NotFound(w, r)
		return
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
		if err != nil {
			http.Error(w, "read request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if int64(len(body)) > s.maxBodyBytes {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
	}

	out, err := s.outgoing(r.Context(), r, rt, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.client.Do(out)
	if err == nil {
		defer resp.Body.Close()
		relay(w, resp)

		return
	}

	if r.Context().Err() != nil {
		// The caller went away; nothing to answer.
		return
	}
	s.enqueue(w, r, rt, body, err)
}

// outgoing builds the upstream request for r.
func (s *server) outgoing(ctx context.Context, r *http.Request, rt *route, body []byte) (*http.Request, error) {
	rest := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(rt.Prefix, "/"))
	target := strings.TrimSuffix(rt.Upstream, "/") + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, err
	}

	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Header.Del(entryIDHeader)

	return out, nil
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request, rt *route, body []byte, cause error) {
	// The queued copy outlives the caller's request.
	req, err := s.outgoing(context.WithoutCancel(r.Context()), r, rt, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Push reports persistence failures through callbacks, not its error.
	var pushErr error
	opts := []backsync.PushOption{
		backsync.WithPushFailure(func(_ types.EntryID, cause error) {
			pushErr = cause
		}),
	}
	if rt.MaxAge > 0 {
		opts = append(opts, backsync.WithEntryMaxAge(rt.MaxAge))
	}

	id, err := rt.queue.Push(req.Context(), req, opts...)
	if err == nil {
		err = pushErr
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"queue": rt.Name, "error": err}).Error("enqueue failed")
		http.Error(w, "upstream unreachable and request could not be queued", http.StatusServiceUnavailable)

		return
	}

	s.log.WithFields(logrus.Fields{
		"queue": rt.Name,
		"id":    id.String(),
		"cause": cause.Error(),
	}).Info("upstream unreachable, request queued")

	w.Header().Set(entryIDHeader, id.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "queue": rt.Name})
}

func relay(w http.ResponseWriter, resp *http.Response) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *server) handleResponse(w http.ResponseWriter, r *http.Request) {
	id := types.EntryID(r.PathValue("id"))

	snap, ok, err := s.coord.Responses().Get(r.Context(), id)
	switch {
	case err != nil:
		s.log.WithFields(logrus.Fields{"id": id.String(), "error": err}).Warn("load response failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	case !ok:
		http.NotFound(w, r)
		return
	}

	for _, h := range snap.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.Header().Set(entryIDHeader, id.String())
	w.WriteHeader(snap.Status)
	_, _ = w.Write(snap.Body)
}

func (s *server) handleAck(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("queue")
	if err := backsync.ValidateQueueName(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, err := s.coord.Queue(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	removed, err := q.Remove(r.Context(), types.EntryID(r.PathValue("id")))
	switch {
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case !removed:
		http.NotFound(w, r)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type queueInfo struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
}

func (s *server) handleQueues(w http.ResponseWriter, r *http.Request) {
	names, err := s.coord.Registry().ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]queueInfo, 0, len(names))
	for _, name := range names {
		q, err := s.coord.Queue(name)
		if err != nil {
			continue
		}
		depth, err := q.Len(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, queueInfo{Name: name, Depth: depth})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleReplay(w http.ResponseWriter, r *http.Request) {
	tag := backsync.ReplayAllTag
	if name := r.URL.Query().Get("queue"); name != "" {
		if err := backsync.ValidateQueueName(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tag = backsync.QueueTag(name)
	}

	if err := s.trigger.fireTag(r.Context(), tag); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.online()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// serve runs srv until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", srv.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
