package review

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gitlab.com/packrat/packrat/internal/conduit"
	"gitlab.com/packrat/packrat/internal/conduit/conduittest"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/gittest"
	"gitlab.com/packrat/packrat/internal/git/mirror"
	"gitlab.com/packrat/packrat/internal/log"
	"gitlab.com/packrat/packrat/internal/testhelper"
)

const (
	validToken = "api-valid"
	callsign   = "PACKRAT"
	repoPHID   = "PHID-REPO-packrat"
)

type testSetup struct {
	service    *Service
	server     *conduittest.Server
	mirrorRoot string
	stagingDir string
	sourcePath string
	bundle     []byte
	first      git.ObjectID
	last       git.ObjectID
}

type setupOptions struct {
	observeURL string
	uris       []conduittest.URI
	errors     map[string]conduittest.ErrorResponse
}

func setupService(t *testing.T, opts setupOptions) testSetup {
	t.Helper()

	_, sourcePath := gittest.InitRepo(t)
	base := gittest.WriteCommit(t, sourcePath,
		gittest.WithBranch("main"),
		gittest.WithTreeEntries(gittest.TreeEntry{Path: "README", Content: "a\nb\n"}),
	)

	localPath := gittest.CloneRepo(t, sourcePath)
	first := gittest.WriteCommit(t, localPath,
		gittest.WithParents(base),
		gittest.WithTreeEntries(gittest.TreeEntry{Path: "README", Content: "a\nc\n"}),
	)
	last := gittest.WriteCommit(t, localPath,
		gittest.WithParents(first),
		gittest.WithBranch("feature"),
		gittest.WithTreeEntries(
			gittest.TreeEntry{Path: "README", Content: "a\nc\n"},
			gittest.TreeEntry{Path: "NEWS", Content: "news\n"},
		),
	)
	bundle := testhelper.MustReadFile(t, gittest.CreateBundle(t, localPath, "main..feature"))

	uris := opts.uris
	if uris == nil {
		observeURL := opts.observeURL
		if observeURL == "" {
			observeURL = sourcePath
		}
		uris = []conduittest.URI{
			{Role: conduit.RoleRead, URL: "https://example.com/read-only"},
			{Role: conduit.RoleObserve, URL: observeURL},
		}
	}

	server := conduittest.NewServer(t, conduittest.ServerOptions{
		Tokens: []string{validToken},
		Repositories: []conduittest.Repository{
			{Callsign: callsign, PHID: repoPHID, Name: "packrat", URIs: uris},
		},
		Errors: opts.errors,
	})

	mirrorRoot := testhelper.TempDir(t)
	stagingDir := testhelper.TempDir(t)
	gitCmdFactory := gittest.NewCommandFactory(t)

	cfg := config.Cfg{
		StagingDir:  stagingDir,
		Git:         config.Git{Timeout: config.Duration(time.Minute)},
		Phabricator: config.Phabricator{Timeout: config.Duration(time.Minute)},
	}

	return testSetup{
		service:    NewService(cfg, NewConduitClientFactory(server.URL), mirror.NewManager(mirrorRoot, gitCmdFactory), gitCmdFactory),
		server:     server,
		mirrorRoot: mirrorRoot,
		stagingDir: stagingDir,
		sourcePath: sourcePath,
		bundle:     bundle,
		first:      first,
		last:       last,
	}
}

func (s testSetup) request() Request {
	return Request{
		APIToken: validToken,
		Callsign: callsign,
		First:    s.first.String(),
		Last:     s.last.String(),
		Bundle:   bytes.NewReader(s.bundle),
	}
}

func requireStagingEmpty(t *testing.T, stagingDir string) {
	t.Helper()

	entries, err := os.ReadDir(stagingDir)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	require.Empty(t, names)
}

func requireNoMirrors(t *testing.T, mirrorRoot string) {
	t.Helper()

	entries, err := os.ReadDir(mirrorRoot)
	require.NoError(t, err)

	// lock files may stay behind
	for _, entry := range entries {
		require.False(t, entry.IsDir(), "unexpected mirror %q", entry.Name())
	}
}

func TestRequestReview(t *testing.T) {
	ctx := testhelper.Context(t)
	s := setupService(t, setupOptions{})

	result, err := s.service.RequestReview(ctx, s.request())
	require.NoError(t, err)

	require.Equal(t, "PHID-DIFF-1", result.Diff.PHID)
	require.Equal(t, repoPHID, result.Diff.RepositoryPHID)
	require.Equal(t, result.Diff.PHID, result.Revision.DiffPHID)
	require.Equal(t, "PHID-DREV-1", result.Revision.Object.PHID)

	digest := sha256.Sum256(s.bundle)
	require.Equal(t, BundleInfo{SHA256: hex.EncodeToString(digest[:]), Size: int64(len(s.bundle))}, result.Bundle)

	require.Equal(t, []string{
		"user.whoami",
		"diffusion.repository.search",
		"differential.createrawdiff",
		"differential.revision.edit",
	}, s.server.Methods())

	diffs := s.server.Diffs()
	require.Len(t, diffs, 1)
	require.Contains(t, diffs[0], "diff --git a/README b/README\n")
	require.Contains(t, diffs[0], "-b\n+c\n")
	require.Contains(t, diffs[0], "diff --git a/NEWS b/NEWS\nnew file mode 100644\n")

	revisionForm := s.server.Calls()[3].Form
	require.Equal(t, "PHID-DIFF-1", revisionForm.Get("transactions[0][value]"))
	require.NotContains(t, revisionForm, "objectIdentifier")

	mirrorPath := mirror.Path(s.mirrorRoot, s.sourcePath)
	require.False(t, gittest.ObjectExists(t, mirrorPath, s.last))
	requireStagingEmpty(t, s.stagingDir)
}

func TestRequestReview_updatesExistingRevision(t *testing.T) {
	ctx := testhelper.Context(t)
	s := setupService(t, setupOptions{})

	req := s.request()
	req.RevisionID = "D7"

	result, err := s.service.RequestReview(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 7, result.Revision.Object.ID)
	require.Equal(t, "D7", s.server.Calls()[3].Form.Get("objectIdentifier"))
}

func TestRequestReview_repeatedRequestsProduceIdenticalDiffs(t *testing.T) {
	ctx := testhelper.Context(t)
	s := setupService(t, setupOptions{})

	for i := 0; i < 2; i++ {
		_, err := s.service.RequestReview(ctx, s.request())
		require.NoError(t, err)
	}

	diffs := s.server.Diffs()
	require.Len(t, diffs, 2)
	require.Equal(t, diffs[0], diffs[1])
	requireStagingEmpty(t, s.stagingDir)
}

func TestRequestReview_failures(t *testing.T) {
	for _, tc := range []struct {
		desc            string
		opts            setupOptions
		modify          func(*Request)
		expectedKind    Kind
		expectedDetail  string
		expectedMethods []string
		expectMirror    bool
	}{
		{
			desc:         "missing token",
			modify:       func(r *Request) { r.APIToken = "" },
			expectedKind: Unauthenticated,
		},
		{
			desc:            "invalid token",
			modify:          func(r *Request) { r.APIToken = "api-invalid" },
			expectedKind:    InvalidCredential,
			expectedMethods: []string{"user.whoami"},
		},
		{
			desc:         "missing bundle",
			modify:       func(r *Request) { r.Bundle = nil },
			expectedKind: BadRequest,
		},
		{
			desc:            "unknown repository",
			modify:          func(r *Request) { r.Callsign = "UNKNOWN" },
			expectedKind:    NotFound,
			expectedDetail:  "UNKNOWN repository cannot be found",
			expectedMethods: []string{"user.whoami", "diffusion.repository.search"},
		},
		{
			desc:            "no observe URI",
			opts:            setupOptions{uris: []conduittest.URI{{Role: conduit.RoleReadWrite, URL: "https://example.com/rw"}}},
			expectedKind:    NotFound,
			expectedDetail:  "A url for cloning/updating cannot be found for PACKRAT",
			expectedMethods: []string{"user.whoami", "diffusion.repository.search"},
		},
		{
			desc: "repository lookup fails",
			opts: setupOptions{errors: map[string]conduittest.ErrorResponse{
				"diffusion.repository.search": {Code: "ERR-CONDUIT-CORE", Info: "broken"},
			}},
			expectedKind:    ReviewServiceError,
			expectedMethods: []string{"user.whoami", "diffusion.repository.search"},
		},
		{
			desc:            "unreachable remote",
			opts:            setupOptions{observeURL: "/does/not/exist"},
			expectedKind:    MirrorError,
			expectedMethods: []string{"user.whoami", "diffusion.repository.search"},
		},
		{
			desc:            "unknown revision",
			modify:          func(r *Request) { r.First = "does-not-exist" },
			expectedKind:    DiffGenerationError,
			expectedMethods: []string{"user.whoami", "diffusion.repository.search"},
			expectMirror:    true,
		},
		{
			desc:            "invalid bundle",
			modify:          func(r *Request) { r.Bundle = strings.NewReader("not a bundle") },
			expectedKind:    DiffGenerationError,
			expectedMethods: []string{"user.whoami", "diffusion.repository.search"},
			expectMirror:    true,
		},
		{
			desc: "diff creation fails",
			opts: setupOptions{errors: map[string]conduittest.ErrorResponse{
				"differential.createrawdiff": {Code: "ERR-CONDUIT-CORE", Info: "broken"},
			}},
			expectedKind:    ReviewServiceError,
			expectedMethods: []string{"user.whoami", "diffusion.repository.search", "differential.createrawdiff"},
			expectMirror:    true,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctx := testhelper.Context(t)
			s := setupService(t, tc.opts)

			req := s.request()
			if tc.modify != nil {
				tc.modify(&req)
			}

			result, err := s.service.RequestReview(ctx, req)
			require.Nil(t, result)

			var reviewErr *Error
			require.True(t, errors.As(err, &reviewErr), "unexpected error: %v", err)
			require.Equal(t, tc.expectedKind, reviewErr.Kind, "unexpected error: %v", err)
			if tc.expectedDetail != "" {
				require.Equal(t, tc.expectedDetail, reviewErr.Detail)
			}

			require.Equal(t, tc.expectedMethods, s.server.Methods())
			if !tc.expectMirror {
				requireNoMirrors(t, s.mirrorRoot)
			}
			requireStagingEmpty(t, s.stagingDir)
		})
	}
}

func TestRequestReview_serviceUnavailable(t *testing.T) {
	ctx := testhelper.Context(t)
	s := setupService(t, setupOptions{})

	listener, addr := testhelper.GetLocalhostListener(t)
	require.NoError(t, listener.Close())
	s.service.newClient = NewConduitClientFactory("http://" + addr)

	_, err := s.service.RequestReview(ctx, s.request())
	require.Equal(t, ServiceUnavailable, KindOf(err))

	var transportErr *conduit.TransportError
	require.True(t, errors.As(err, &transportErr))
	requireNoMirrors(t, s.mirrorRoot)
}

func TestRequestReview_revisionCreationFails(t *testing.T) {
	ctx := testhelper.Context(t)
	s := setupService(t, setupOptions{errors: map[string]conduittest.ErrorResponse{
		"differential.revision.edit": {Code: "ERR-CONDUIT-CORE", Info: "revision broken"},
	}})

	_, err := s.service.RequestReview(ctx, s.request())

	var reviewErr *Error
	require.True(t, errors.As(err, &reviewErr))
	require.Equal(t, ReviewServiceError, reviewErr.Kind)
	require.Contains(t, reviewErr.Detail, "PHID-DIFF-1")

	var conduitErr *conduit.Error
	require.True(t, errors.As(err, &conduitErr))
	require.Equal(t, "differential.revision.edit", conduitErr.Method)

	// the diff is neither retried nor rolled back
	require.Equal(t, []string{
		"user.whoami",
		"diffusion.repository.search",
		"differential.createrawdiff",
		"differential.revision.edit",
	}, s.server.Methods())
	requireStagingEmpty(t, s.stagingDir)
}

func TestRequestReview_stagingFailure(t *testing.T) {
	ctx := testhelper.Context(t)
	s := setupService(t, setupOptions{})

	notADir := filepath.Join(testhelper.TempDir(t), "file")
	require.NoError(t, os.WriteFile(notADir, nil, 0o600))
	s.service.stagingDir = notADir

	_, err := s.service.RequestReview(ctx, s.request())
	require.Equal(t, TransientFileError, KindOf(err))
}

type failingRemoval struct {
	stagedBundle
}

func (b failingRemoval) Remove() error {
	if err := b.stagedBundle.Remove(); err != nil {
		return err
	}
	return errors.New("device busy")
}

func TestRequestReview_bundleRemovalFailureDoesNotMaskError(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ctx := log.ToContext(testhelper.Context(t), logrus.NewEntry(logger))

	s := setupService(t, setupOptions{})
	s.service.stage = func(dir string, r io.Reader) (stagedBundle, error) {
		staged, err := stageBundle(dir, r)
		if err != nil {
			return nil, err
		}
		return failingRemoval{staged}, nil
	}

	req := s.request()
	req.First = "does-not-exist"

	_, err := s.service.RequestReview(ctx, req)
	require.Equal(t, DiffGenerationError, KindOf(err))

	var removalLogged bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "removing staged bundle" {
			removalLogged = true
			require.Equal(t, logrus.ErrorLevel, entry.Level)
			require.EqualError(t, entry.Data[logrus.ErrorKey].(error), "device busy")
		}
	}
	require.True(t, removalLogged)
	requireStagingEmpty(t, s.stagingDir)
}
