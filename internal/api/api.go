// Package api is the local HTTP control surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"codeberg.org/iclab/ppglogger/internal/connection"
	"codeberg.org/iclab/ppglogger/internal/control"
	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/record"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the client intent surface.
type Controller interface {
	Start() error
	Stop() error
	Flush(ctx context.Context) error
	BindService() error
	UnbindService()
	Current() control.ServiceState
}

// Connection reports the sensing service handshake.
type Connection interface {
	Current() connection.State
	LastError() error
}

// Records is the read side of the record store.
type Records interface {
	GetAll(ctx context.Context) ([]record.SensorRecord, error)
	GetLast(ctx context.Context) (*record.SensorRecord, error)
	Count(ctx context.Context) (int64, error)
}

type Deps struct {
	Controller Controller
	Connection Connection
	Records    Records
	Gatherer   prometheus.Gatherer
	Log        logger.Logger
}

type handler struct {
	Deps
}

type Status struct {
	ServiceState    string               `json:"service_state"`
	ConnectionState string               `json:"connection_state"`
	ConnectionError string               `json:"connection_error,omitempty"`
	Records         int64                `json:"records"`
	Last            *record.SensorRecord `json:"last"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// New returns the router.
func New(deps Deps) http.Handler {
	h := &handler{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			h.Log.Debug().Err(err).Msg("write error")
		}
	})
	r.Get("/status", h.status)

	r.Post("/start", h.intent("start", h.Controller.Start))
	r.Post("/stop", h.intent("stop", h.Controller.Stop))
	r.Post("/bind", h.intent("bind", h.Controller.BindService))
	r.Post("/unbind", h.intent("unbind", func() error {
		h.Controller.UnbindService()
		return nil
	}))
	r.Post("/flush", func(w http.ResponseWriter, req *http.Request) {
		h.intent("flush", func() error { return h.Controller.Flush(req.Context()) })(w, req)
	})

	r.Route("/records", func(r chi.Router) {
		r.Get("/", h.records)
		r.Get("/last", h.last)
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (h *handler) status(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	n, err := h.Records.Count(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}
	last, err := h.Records.GetLast(ctx)
	if err != nil {
		h.fail(w, err)
		return
	}

	st := Status{
		ServiceState:    h.Controller.Current().String(),
		ConnectionState: h.Connection.Current().String(),
		Records:         n,
		Last:            last,
	}
	if connErr := h.Connection.LastError(); connErr != nil {
		st.ConnectionError = string(errors.CodeOf(connErr))
	}

	h.write(w, http.StatusOK, st)
}

func (h *handler) intent(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			h.Log.Warn().Err(err).Str("intent", name).Msg("Intent failed")
			h.fail(w, err)
			return
		}
		h.write(w, http.StatusOK, map[string]string{
			"service_state": h.Controller.Current().String(),
		})
	}
}

func (h *handler) records(w http.ResponseWriter, req *http.Request) {
	all, err := h.Records.GetAll(req.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, all)
}

func (h *handler) last(w http.ResponseWriter, req *http.Request) {
	last, err := h.Records.GetLast(req.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if last == nil {
		h.write(w, http.StatusNotFound, errorBody{Error: "no records"})
		return
	}
	h.write(w, http.StatusOK, last)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	h.write(w, statusFor(code), errorBody{Error: err.Error(), Code: string(code)})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrNotBound, errors.ErrClaimHeld, errors.ErrNotConnected:
		return http.StatusConflict
	case errors.ErrServiceStopped:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Log.Debug().Err(err).Msg("write error")
	}
}
