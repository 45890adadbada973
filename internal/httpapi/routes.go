package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/broadcast"
	"github.com/DoyleJ11/live-chess-backend/internal/dispatch"
	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
	"github.com/DoyleJ11/live-chess-backend/internal/ws"
)

type Deps struct {
	Dispatcher  *dispatch.Dispatcher
	Broadcaster *broadcast.Broadcaster
	Metrics     *metrics.Metrics
	WS          ws.Options
	Log         *zap.Logger
}

func SetupRoutes(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Log.Named("http")))

	d := deps.Dispatcher
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", CreateSession(d))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetSession(d))
			r.Get("/events", ListEvents(d))
			r.Post("/commands", SubmitCommand(d))
			r.Post("/seats/{side}", BindSeat(d))
		})
	})

	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Get("/ws", ws.Handler(d, deps.Broadcaster, deps.WS, deps.Log))
	r.Get("/ws/notifications", ws.NotificationsHandler(deps.Broadcaster, deps.WS, deps.Log))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
