// Package review turns an uploaded bundle into a diff and a revision on the
// review service.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"gitlab.com/packrat/packrat/internal/conduit"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/bundle"
	"gitlab.com/packrat/packrat/internal/git/mirror"
	"gitlab.com/packrat/packrat/internal/git/view"
	"gitlab.com/packrat/packrat/internal/log"
)

// Client is the part of the review service API used to request reviews.
type Client interface {
	VerifyAuth(ctx context.Context) error
	LookupRepository(ctx context.Context, callsign string) (*conduit.Repository, error)
	CreateDiff(ctx context.Context, diff []byte, repoPHID string) (*conduit.Diff, error)
	CreateRevision(ctx context.Context, diffPHID, existingRevision string) (*conduit.Revision, error)
}

// ClientFactory creates a Client acting on behalf of the given API token.
type ClientFactory func(token string) (Client, error)

// NewConduitClientFactory returns a ClientFactory creating conduit clients
// for the service at baseURL.
func NewConduitClientFactory(baseURL string, opts ...conduit.Option) ClientFactory {
	return func(token string) (Client, error) {
		return conduit.New(baseURL, token, opts...)
	}
}

// Request is a request for review of the changes in a bundle.
type Request struct {
	// APIToken is the review service token of the requester.
	APIToken string
	// Callsign identifies the repository on the review service.
	Callsign string
	// First is the first commit to review. Its first parent is the base of
	// the diff.
	First string
	// Last is the last commit to review.
	Last string
	// RevisionID is an existing revision to update. A new revision is
	// created if it is empty.
	RevisionID string
	// Bundle is the uploaded git bundle.
	Bundle io.Reader
}

// Validate checks that all required parameters are set. The API token is
// not checked, its absence is reported as Unauthenticated.
func (r Request) Validate() error {
	for _, param := range []struct {
		name  string
		empty bool
	}{
		{"repository_callsign", r.Callsign == ""},
		{"first", r.First == ""},
		{"last", r.Last == ""},
		{"bundle", r.Bundle == nil},
	} {
		if param.empty {
			return newError(BadRequest, fmt.Errorf("%s: %w", param.name, ErrMissingParameter), "Missing formdata parameter '%s'", param.name)
		}
	}
	return nil
}

// BundleInfo describes the uploaded bundle. The bundle itself does not
// outlive the request.
type BundleInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Result is the outcome of a successful review request.
type Result struct {
	Diff     *conduit.Diff     `json:"diff"`
	Revision *conduit.Revision `json:"revision_result"`
	Bundle   BundleInfo        `json:"bundle"`
}

// stagedBundle is an uploaded bundle kept on disk while a request runs.
type stagedBundle interface {
	Path() string
	SHA256() string
	Size() int64
	Remove() error
}

func stageBundle(dir string, r io.Reader) (stagedBundle, error) {
	artifact, err := bundle.Stage(dir, r)
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// Service requests reviews.
type Service struct {
	newClient      ClientFactory
	stage          func(dir string, r io.Reader) (stagedBundle, error)
	mirrors        *mirror.Manager
	gitCmdFactory  git.CommandFactory
	stagingDir     string
	gitTimeout     time.Duration
	conduitTimeout time.Duration
}

// NewService creates a Service.
func NewService(cfg config.Cfg, newClient ClientFactory, mirrors *mirror.Manager, gitCmdFactory git.CommandFactory) *Service {
	return &Service{
		newClient:      newClient,
		stage:          stageBundle,
		mirrors:        mirrors,
		gitCmdFactory:  gitCmdFactory,
		stagingDir:     cfg.StagingDir,
		gitTimeout:     cfg.Git.Timeout.Duration(),
		conduitTimeout: cfg.Phabricator.Timeout.Duration(),
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// RequestReview authenticates the requester, brings the mirror of the
// repository up to date, diffs the bundle's changes against it and submits
// the diff for review. Steps run in order and the first failure aborts the
// request with an *Error. Nothing is retried or rolled back: a diff created
// before revision creation fails stays on the review service.
func (s *Service) RequestReview(ctx context.Context, req Request) (_ *Result, returnedErr error) {
	start := time.Now()
	logger := log.FromContext(ctx).WithField("callsign", req.Callsign)
	ctx = log.ToContext(ctx, logger)

	defer func() {
		observeRequest(start, returnedErr)

		entry := logger.WithField("duration_ms", time.Since(start).Milliseconds())
		if returnedErr != nil {
			entry.WithError(returnedErr).WithField("kind", KindOf(returnedErr).String()).Info("review request failed")
			return
		}
		entry.Info("review requested")
	}()

	if req.APIToken == "" {
		return nil, newError(Unauthenticated, nil, "Phabricator api key not provided in X-API-Key header")
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := s.newClient(req.APIToken)
	if err != nil {
		return nil, newError(Internal, err, "creating review service client")
	}

	if err := s.authenticate(ctx, client); err != nil {
		return nil, err
	}

	repo, cloneURL, err := s.resolveRepository(ctx, client, req.Callsign)
	if err != nil {
		return nil, err
	}

	mirrorPath := s.mirrors.Path(cloneURL)
	logger = logger.WithField("mirror_path", mirrorPath)
	ctx = log.ToContext(ctx, logger)

	if err := s.syncMirror(ctx, mirrorPath, cloneURL); err != nil {
		return nil, err
	}

	artifact, err := s.stage(s.stagingDir, req.Bundle)
	if err != nil {
		return nil, newError(TransientFileError, err, "The uploaded bundle could not be stored")
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			logger.WithError(err).WithField("bundle_path", artifact.Path()).Error("removing staged bundle")
		}
	}()

	logger.WithFields(logrus.Fields{
		"bundle_sha256": artifact.SHA256(),
		"bundle_size":   artifact.Size(),
	}).Debug("bundle staged")

	rawDiff, err := s.generateDiff(ctx, mirrorPath, artifact.Path(), req.First, req.Last)
	if err != nil {
		return nil, err
	}

	diff, revision, err := s.submit(ctx, client, repo.PHID, rawDiff, req.RevisionID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Diff:     diff,
		Revision: revision,
		Bundle: BundleInfo{
			SHA256: artifact.SHA256(),
			Size:   artifact.Size(),
		},
	}, nil
}

func (s *Service) authenticate(ctx context.Context, client Client) error {
	ctx, cancel := withTimeout(ctx, s.conduitTimeout)
	defer cancel()

	err := client.VerifyAuth(ctx)
	if err == nil {
		return nil
	}

	var conduitErr *conduit.Error
	if errors.As(err, &conduitErr) {
		return newError(InvalidCredential, err, "Phabricator api key is not valid")
	}

	return newError(ServiceUnavailable, err, "The API key could not be verified")
}

func (s *Service) resolveRepository(ctx context.Context, client Client, callsign string) (*conduit.Repository, string, error) {
	ctx, cancel := withTimeout(ctx, s.conduitTimeout)
	defer cancel()

	repo, err := client.LookupRepository(ctx, callsign)
	if err != nil {
		return nil, "", newError(ReviewServiceError, err, "Looking up repository %s failed", callsign)
	}

	if repo == nil {
		return nil, "", newError(NotFound, nil, "%s repository cannot be found", callsign)
	}

	uri, ok := repo.ObserveURI()
	if !ok {
		return nil, "", newError(NotFound, nil, "A url for cloning/updating cannot be found for %s", callsign)
	}

	return repo, uri.URL, nil
}

func (s *Service) syncMirror(ctx context.Context, mirrorPath, cloneURL string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "review.syncMirror")
	defer span.Finish()
	span.SetTag("mirror_path", mirrorPath)

	ctx, cancel := withTimeout(ctx, s.gitTimeout)
	defer cancel()

	if err := s.mirrors.EnsureUpdatedClone(ctx, mirrorPath, cloneURL); err != nil {
		return newError(MirrorError, err, "The repository mirror could not be updated")
	}

	return nil
}

// generateDiff diffs the first parent of first against last. The mirror
// stays read locked and the bundle's objects quarantined until it returns.
func (s *Service) generateDiff(ctx context.Context, mirrorPath, bundlePath, first, last string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "review.generateDiff")
	defer span.Finish()
	span.SetTag("first", first)
	span.SetTag("last", last)

	ctx, cancel := withTimeout(ctx, s.gitTimeout)
	defer cancel()

	unlock, err := s.mirrors.RLock(ctx, mirrorPath)
	if err != nil {
		return nil, newError(MirrorError, err, "The repository mirror could not be locked")
	}
	defer unlock()

	v, err := view.Open(ctx, s.gitCmdFactory, mirrorPath, bundlePath, view.WithQuarantineRoot(s.stagingDir))
	if err != nil {
		var bundleErr *bundle.Error
		if errors.As(err, &bundleErr) {
			return nil, newError(DiffGenerationError, err, "The bundle could not be applied to the repository")
		}
		return nil, newError(TransientFileError, err, "The bundle could not be opened")
	}
	defer v.Close()

	log.FromContext(ctx).WithField("bundle_refs", len(v.BundleRefs())).Debug("bundle applied")

	diff, err := v.Diff(ctx, git.Revision(first).Parent(), git.Revision(last))
	if err != nil {
		var diffErr *view.DiffError
		if errors.As(err, &diffErr) {
			return nil, newError(DiffGenerationError, err, "No diff could be generated between the parent of %s and %s", first, last)
		}
		return nil, newError(Internal, err, "Generating the diff failed")
	}

	return diff, nil
}

func (s *Service) submit(ctx context.Context, client Client, repoPHID string, rawDiff []byte, revisionID string) (*conduit.Diff, *conduit.Revision, error) {
	logger := log.FromContext(ctx)

	diffCtx, cancel := withTimeout(ctx, s.conduitTimeout)
	defer cancel()

	diff, err := client.CreateDiff(diffCtx, rawDiff, repoPHID)
	if err != nil {
		return nil, nil, newError(ReviewServiceError, err, "Creating the diff failed")
	}
	logger = logger.WithField("diff_phid", diff.PHID)

	revisionCtx, cancel := withTimeout(ctx, s.conduitTimeout)
	defer cancel()

	revision, err := client.CreateRevision(revisionCtx, diff.PHID, revisionID)
	if err != nil {
		logger.WithError(err).Warn("revision creation failed, diff left orphaned")
		return nil, nil, newError(ReviewServiceError, err, "Creating the revision failed, diff %s was left without revision", diff.PHID)
	}

	logger.WithField("revision_phid", revision.Object.PHID).Info("revision submitted")

	return diff, revision, nil
}
