// Package server implements the HTTP interface of packrat.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
	"gitlab.com/gitlab-org/labkit/tracing"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/log"
	"gitlab.com/packrat/packrat/internal/review"
	"gitlab.com/packrat/packrat/internal/version"
)

const requestIDHeader = "X-Request-Id"

// Reviewer processes review requests.
type Reviewer interface {
	RequestReview(ctx context.Context, req review.Request) (*review.Result, error)
}

type server struct {
	reviewer      Reviewer
	gitCmdFactory git.CommandFactory
	reposPath     string
	versionInfo   version.Info
}

// NewHandler returns the handler serving all routes of packrat.
func NewHandler(reviewer Reviewer, gitCmdFactory git.CommandFactory, reposPath string, versionInfo version.Info) http.Handler {
	s := &server{
		reviewer:      reviewer,
		gitCmdFactory: gitCmdFactory,
		reposPath:     reposPath,
		versionInfo:   versionInfo,
	}

	r := mux.NewRouter()
	r.Use(contextLogger)
	r.HandleFunc("/request-review", s.requestReview).Methods(http.MethodPost)

	dockerflow := r.NewRoute().Subrouter()
	dockerflow.Use(disableCaching)
	dockerflow.HandleFunc("/__heartbeat__", s.heartbeat).Methods(http.MethodGet, http.MethodHead)
	dockerflow.HandleFunc("/__lbheartbeat__", s.lbHeartbeat).Methods(http.MethodGet, http.MethodHead)
	dockerflow.HandleFunc("/__version__", s.version).Methods(http.MethodGet, http.MethodHead)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "The requested URL was not found on the server.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The method is not allowed for the requested URL.")
	})

	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(log.Default()), handlers.PrintRecoveryStack(true))(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, accessLogFormatter)
	h = tracing.Handler(h, tracing.WithRouteIdentifier("packrat"))
	h = correlationHeader(h)
	h = correlation.InjectCorrelationID(h, correlation.WithPropagation())

	return h
}

// correlationHeader echoes the request's correlation ID. It must run before
// the wrapped handler writes its headers.
func correlationHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := correlation.ExtractFromContext(r.Context()); id != "" {
			w.Header().Set(requestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func contextLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := log.Default().WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(log.ToContext(r.Context(), entry)))
	})
}

func accessLogFormatter(_ io.Writer, params handlers.LogFormatterParams) {
	fields := logrus.Fields{
		"method":      params.Request.Method,
		"uri":         params.URL.RequestURI(),
		"status":      params.StatusCode,
		"size":        params.Size,
		"remote_ip":   params.Request.RemoteAddr,
		"user_agent":  params.Request.UserAgent(),
		"duration_ms": time.Since(params.TimeStamp).Milliseconds(),
	}
	if id := correlation.ExtractFromContext(params.Request.Context()); id != "" {
		fields["correlation_id"] = id
	}

	log.Access().WithFields(fields).Info("access")
}
