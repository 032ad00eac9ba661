package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/msgcat"
	"github.com/park285/code-duel/internal/notify"
	"github.com/park285/code-duel/internal/problem"
	"github.com/park285/code-duel/pkg/duelapi"
)

type MatchStore interface {
	Create(ctx context.Context, m *duel.Match) error
	Get(ctx context.Context, id string) (*duel.Match, error)
	Join(ctx context.Context, id, playerID string) (*duel.JoinResult, error)
}

// Notifier is the notification channel as seen by HTTP clients.
type Notifier interface {
	Publish(ctx context.Context, matchID string, msg duelapi.StreamMessage) error
	Latest(ctx context.Context, matchID string) (json.RawMessage, error)
	Subscribe(ctx context.Context, matchID string) (*notify.Subscription, error)
}

type Options struct {
	AllowedDurations []int
	DefaultDuration  int
	// Health backs /healthz. Optional.
	Health func(ctx context.Context) error
}

// Handlers serves the match gateway. It validates requests, performs the
// roster writes itself and hands everything else to the bus.
type Handlers struct {
	store    MatchStore
	problems problem.Repository
	events   bus.Publisher
	notify   Notifier
	catalog  *msgcat.Catalog
	opts     Options
	now      func() time.Time
}

func New(store MatchStore, problems problem.Repository, events bus.Publisher, n Notifier, catalog *msgcat.Catalog, opts Options) *Handlers {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 5
	}
	if len(opts.AllowedDurations) == 0 {
		opts.AllowedDurations = []int{opts.DefaultDuration}
	}
	return &Handlers{
		store:    store,
		problems: problems,
		events:   events,
		notify:   n,
		catalog:  catalog,
		opts:     opts,
		now:      time.Now,
	}
}

func (h *Handlers) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.AllowAll().Handler)
	mux.NotFound(h.notFound)
	mux.MethodNotAllowed(h.methodNotAllowed)

	mux.Get("/healthz", h.HealthHandler)
	mux.Route("/match", func(r chi.Router) {
		r.Post("/create", h.CreateMatchHandler)
		r.Post("/join", h.JoinMatchHandler)
		r.Post("/run", h.codeHandler(duelapi.ActionRunTests))
		r.Post("/submit", h.codeHandler(duelapi.ActionSubmitSolution))
		r.Post("/analyze", h.AnalyzeHandler)
		r.Get("/{matchId}", h.MatchStatusHandler)
		r.Get("/{matchId}/stream", h.StreamHandler)
	})
	return mux
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			h.errorMessage(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, duelapi.MessageResponse{Msg: "ok"})
}
