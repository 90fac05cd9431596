package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"gitlab.com/packrat/packrat/internal/log"
	"gitlab.com/packrat/packrat/internal/review"
)

const (
	// APIKeyHeader carries the review service API token of the requester.
	APIKeyHeader = "X-API-Key"

	// uploads larger than this are buffered on disk while parsing
	multipartMemory = 32 << 20
)

func (s *server) requestReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "The request body could not be parsed: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	req := review.Request{
		APIToken:   r.Header.Get(APIKeyHeader),
		Callsign:   r.FormValue("repository_callsign"),
		First:      r.FormValue("first"),
		Last:       r.FormValue("last"),
		RevisionID: r.FormValue("revision_id"),
	}

	if r.MultipartForm != nil {
		if files := r.MultipartForm.File["bundle"]; len(files) > 0 {
			file, err := files[0].Open()
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			defer file.Close()
			req.Bundle = file
		}
	}

	// malformed requests are rejected before touching the review service
	if err := req.Validate(); err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := s.reviewer.RequestReview(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, "application/json", result)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := review.KindOf(err)
	status := kind.HTTPStatus()

	detail := "An unexpected error occurred."
	var reviewErr *review.Error
	if errors.As(err, &reviewErr) {
		detail = reviewErr.Detail
	}

	if status >= http.StatusInternalServerError {
		logger := log.FromContext(ctx).WithError(err)
		if eventID := sentry.CaptureException(err); eventID != nil {
			logger = logger.WithField("sentry_id", *eventID)
		}
		logger.Error("request failed")
	}

	writeProblem(w, status, kind.Title(), detail)
}
