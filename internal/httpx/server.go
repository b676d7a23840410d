package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

func NewRouter(logger log.FieldLogger, timeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func accessLog(logger log.FieldLogger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			h.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":     r.Method,
				"url":        r.URL.String(),
				"remoteAddr": r.RemoteAddr,
				"userAgent":  r.UserAgent(),
				"requestID":  middleware.GetReqID(r.Context()),
				"status":     ww.Status(),
				"took":       time.Since(start).String(),
			}).Info("request served")
		})
	}
}
