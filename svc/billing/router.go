package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/motorlot/pkg/httpserver"
	"github.com/dmitrymomot/motorlot/pkg/logger"
	"github.com/dmitrymomot/motorlot/pkg/requestid"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

// Router exposes the webhook endpoints of every configured gateway under
// /webhooks/{gateway}, plus health and metrics endpoints.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware())
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(a.logger, a.cfg.ReadyTimeout, a.deps.Checks))
	r.Handle("/metrics", promhttp.HandlerFor(a.deps.Registry, promhttp.HandlerOpts{}))

	names := make([]string, 0, len(a.deps.Parsers))
	for name := range a.deps.Parsers {
		names = append(names, name)
	}
	sort.Strings(names)

	r.Route("/webhooks", func(wh chi.Router) {
		for _, name := range names {
			wh.Post("/"+name, a.webhookHandler(name, a.deps.Parsers[name]))
		}
	})
	return r
}

type webhookResponse struct {
	EventID string `json:"event_id,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// webhookHandler verifies and applies one delivery. Failed verification and
// undecodable payloads answer 400. Business outcomes and "nothing to
// reconcile" answer 200 so the gateway stops redelivering; transient failures
// answer 500 so it retries.
func (a *App) webhookHandler(gateway string, parser subscription.EventParser) http.HandlerFunc {
	log := a.logger.With(logger.Gateway(gateway))

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ev, err := parser.ParseWebhook(r)
		if err != nil {
			status := http.StatusBadRequest
			if !errors.Is(err, subscription.ErrWebhookVerificationFailed) && !errors.Is(err, subscription.ErrMalformedEvent) {
				status = http.StatusInternalServerError
			}
			log.WarnContext(ctx, "rejected webhook delivery",
				slog.Int("status", status),
				logger.Error(err),
			)
			writeJSON(w, status, webhookResponse{Outcome: string(subscription.OutcomeFailed), Error: http.StatusText(status)})
			return
		}

		outcome, err := a.Reconciler.HandleEvent(ctx, ev)
		if err != nil && subscription.IsTransient(err) {
			log.ErrorContext(ctx, "webhook will be retried",
				logger.EventID(ev.ID),
				logger.EventType(ev.Type),
				logger.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, webhookResponse{EventID: ev.ID, Outcome: string(outcome), Error: "temporary failure"})
			return
		}
		if err != nil {
			log.WarnContext(ctx, "webhook rejected by the state machine",
				logger.EventID(ev.ID),
				logger.EventType(ev.Type),
				logger.Error(err),
			)
		}
		writeJSON(w, http.StatusOK, webhookResponse{EventID: ev.ID, Outcome: string(outcome)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
