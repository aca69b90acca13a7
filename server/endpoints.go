package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/kit"
	"github.com/hazyhaar/chatdrop/observability"
	"github.com/hazyhaar/chatdrop/panel"
	"github.com/hazyhaar/chatdrop/router"
	"github.com/hazyhaar/chatdrop/settings"
	"github.com/hazyhaar/chatdrop/shield"
)

type urlRequest struct {
	URL string `json:"url"`
}

type uploadRequest struct {
	URL          string `json:"url"`
	CollectionID string `json:"collection_id"`
}

// createRequest creates a collection. With Upload set, or a URL given, the
// page is uploaded into it as well; an empty URL then means the active tab.
type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Upload      bool   `json:"upload"`
}

type statusRequest struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

// StatusResponse is the banner plus recent journal events.
type StatusResponse struct {
	Banner *panel.Banner          `json:"banner"`
	Events []observability.Event `json:"events,omitempty"`
}

func (s *Server) endpointStatus(ctx context.Context, _ any) (any, error) {
	return s.bg.Send(ctx, router.MustMessage(router.ActionGetURLStatus, nil))
}

func (s *Server) recheck(ctx context.Context, _ any) (any, error) {
	return s.bg.Send(ctx, router.MustMessage(router.ActionRecheckURLs, nil))
}

func (s *Server) getSettings(ctx context.Context, _ any) (any, error) {
	o, err := endpoint.LoadOptions(ctx, s.store)
	if err != nil {
		return nil, err
	}
	o.APIKey = ""
	return o, nil
}

// putSettings saves the options. An empty apiKey keeps the stored one, so
// settings read from GET can be sent back unchanged.
func (s *Server) putSettings(ctx context.Context, req any) (any, error) {
	o := *req.(*endpoint.Options)
	if o.APIKey == "" {
		key, err := settings.String(ctx, s.store, settings.Synced, settings.KeyAPIKey)
		if err != nil {
			return nil, err
		}
		o.APIKey = key
	}
	return endpoint.SaveOptions(ctx, s.store, s.prober, o)
}

func (s *Server) attach(ctx context.Context, req any) (any, error) {
	return s.flows.Attach(ctx, req.(*urlRequest).URL, false)
}

func (s *Server) summarize(ctx context.Context, req any) (any, error) {
	return s.flows.Summarize(ctx, req.(*urlRequest).URL)
}

func (s *Server) listCollections(ctx context.Context, _ any) (any, error) {
	return s.flows.ListCollections(ctx)
}

func (s *Server) upload(ctx context.Context, req any) (any, error) {
	r := req.(*uploadRequest)
	return s.flows.UploadToCollection(ctx, r.URL, r.CollectionID)
}

func (s *Server) createCollection(ctx context.Context, req any) (any, error) {
	r := req.(*createRequest)
	if r.Upload || r.URL != "" {
		return s.flows.UploadToNewCollection(ctx, r.URL, r.Name, r.Description)
	}
	return s.flows.CreateCollection(ctx, r.Name, r.Description)
}

func (s *Server) status(ctx context.Context, req any) (any, error) {
	resp := StatusResponse{Banner: s.flows.Status().Current()}
	if s.events == nil {
		return resp, nil
	}
	limit, kind := 20, ""
	if r, ok := req.(*statusRequest); ok {
		kind = r.Kind
		if r.Limit > 0 {
			limit = r.Limit
		}
	}
	evs, err := s.events.Recent(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	resp.Events = evs
	return resp, nil
}

// decoder turns a request into an endpoint argument.
type decoder func(r *http.Request) (any, error)

func noBody(*http.Request) (any, error) { return nil, nil }

func statusQuery(r *http.Request) (any, error) {
	q := r.URL.Query()
	req := &statusRequest{Kind: q.Get("kind")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		req.Limit = n
	}
	return req, nil
}

// errNotJSON rejects bodies sent with another media type. Browsers may send
// text/plain cross-origin without a preflight, so it is refused outright.
var errNotJSON = errors.New("content type must be application/json")

func jsonBody[T any](r *http.Request) (any, error) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil, errNotJSON
	}
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &v, nil
}

// handle adapts an endpoint to HTTP. Configuration problems are 400s,
// other failures 500s; a failed reply is still a 200 carrying success
// false, as every cross-context caller gets.
func (s *Server) handle(name string, ep kit.Endpoint, decode decoder) http.HandlerFunc {
	ep = kit.Chain(kit.Recover(), kit.Logging(s.logger, name))(ep)
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, errNotJSON) {
				code = http.StatusUnsupportedMediaType
			}
			writeError(w, code, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			shield.GetLogger(r.Context()).Debug("server: endpoint error", "endpoint", name, "error", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	var ce *panel.ConfigurationError
	var xe *panel.ContentExtractionError
	switch {
	case errors.As(err, &ce), errors.Is(err, panel.ErrYouTubeUpload):
		return http.StatusBadRequest
	case errors.As(err, &xe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, router.ErrNoBackground):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
