// Package conduit implements a client for the Conduit API of a
// Phabricator-style review service.
package conduit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"gitlab.com/packrat/packrat/internal/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultRevisionComment is posted on every revision created or updated
	// by the client unless overridden with WithRevisionComment.
	DefaultRevisionComment = "This revision was updated from a git bundle uploaded to packrat. " +
		"To reproduce it locally, fetch the commits of the bundle with `git fetch <bundle>` " +
		"and compare them with `git diff`."

	revisionTitle    = "Review request from uploaded bundle"
	revisionSummary  = "Changes were submitted as a git bundle."
	revisionTestPlan = "No test plan was provided."

	maxResponseSize = 32 << 20
)

// Client talks to the Conduit API on behalf of a single API token.
type Client struct {
	apiURL          string
	token           string
	httpClient      *http.Client
	limiter         *rate.Limiter
	revisionComment string
	userAgent       string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit throttles calls with the given limiter. The limiter can be
// shared across clients.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRevisionComment sets the comment posted on revisions.
func WithRevisionComment(comment string) Option {
	return func(c *Client) {
		c.revisionComment = comment
	}
}

// WithUserAgent sets the User-Agent header of all calls.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NormalizeURL returns the API root for baseURL, which must be an absolute
// http(s) URL.
func NormalizeURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing conduit url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("conduit url %q: unsupported scheme", baseURL)
	}

	if strings.HasSuffix(baseURL, "/") {
		return baseURL + "api/", nil
	}
	return baseURL + "/api/", nil
}

// New creates a client for the service at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	apiURL, err := NormalizeURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiURL:          apiURL,
		token:           token,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		revisionComment: DefaultRevisionComment,
		userAgent:       "packrat",
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// VerifyAuth checks the client's token. It returns a *Error if the service
// rejected the token and a *TransportError if the service could not be
// asked.
func (c *Client) VerifyAuth(ctx context.Context) error {
	return c.call(ctx, "user.whoami", nil, nil)
}

// Authenticated reports whether the token is valid. Any failure, including
// an unreachable service, counts as not authenticated.
func (c *Client) Authenticated(ctx context.Context) bool {
	return c.VerifyAuth(ctx) == nil
}

// LookupRepository returns the repository with the given callsign, or nil if
// there is none.
func (c *Client) LookupRepository(ctx context.Context, callsign string) (*Repository, error) {
	var result repositorySearchResult
	if err := c.call(ctx, "diffusion.repository.search", Params{
		"constraints": map[string]interface{}{
			"callsigns": []string{callsign},
		},
		"attachments": map[string]interface{}{
			"uris": true,
		},
	}, &result); err != nil {
		return nil, err
	}

	repos := result.repositories()
	if len(repos) == 0 {
		return nil, nil
	}
	return &repos[0], nil
}

// CreateDiff uploads a raw diff. If repoPHID is not empty the diff is
// associated with that repository.
func (c *Client) CreateDiff(ctx context.Context, diff []byte, repoPHID string) (*Diff, error) {
	params := Params{"diff": diff}
	if repoPHID != "" {
		params["repositoryPHID"] = repoPHID
	}

	var result Diff
	if err := c.call(ctx, "differential.createrawdiff", params, &result); err != nil {
		return nil, err
	}
	result.RepositoryPHID = repoPHID

	return &result, nil
}

// RevisionTransactions returns the transactions applied to a revision to make
// it point to the diff with the given PHID.
func (c *Client) RevisionTransactions(diffPHID string) []Transaction {
	return []Transaction{
		{Type: "update", Value: diffPHID},
		{Type: "title", Value: revisionTitle},
		{Type: "summary", Value: revisionSummary},
		{Type: "testPlan", Value: revisionTestPlan},
		{Type: "comment", Value: c.revisionComment},
	}
}

// CreateRevision creates a revision for the diff. If existingRevision is not
// empty that revision is updated instead.
func (c *Client) CreateRevision(ctx context.Context, diffPHID, existingRevision string) (*Revision, error) {
	transactions := c.RevisionTransactions(diffPHID)
	txParams := make([]map[string]string, 0, len(transactions))
	for _, tx := range transactions {
		txParams = append(txParams, map[string]string{"type": tx.Type, "value": tx.Value})
	}

	params := Params{"transactions": txParams}
	if existingRevision != "" {
		params["objectIdentifier"] = existingRevision
	}

	var result Revision
	if err := c.call(ctx, "differential.revision.edit", params, &result); err != nil {
		return nil, err
	}
	result.DiffPHID = diffPHID

	return &result, nil
}

type envelope struct {
	Result    json.RawMessage `json:"result"`
	ErrorCode json.RawMessage `json:"error_code"`
	ErrorInfo *string         `json:"error_info"`
}

// errorCode returns the error code of the envelope, empty if the call
// succeeded.
func (e envelope) errorCode() string {
	switch raw := strings.TrimSpace(string(e.ErrorCode)); raw {
	case "", "null", `""`, "0", "false":
		return ""
	default:
		var code string
		if err := json.Unmarshal(e.ErrorCode, &code); err == nil {
			return code
		}
		return raw
	}
}

func (c *Client) call(ctx context.Context, method string, params Params, result interface{}) (returnedErr error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "conduit."+method)
	defer span.Finish()

	start := time.Now()
	logger := log.FromContext(ctx).WithField("conduit_method", method)
	defer func() {
		observeRequest(method, start, returnedErr)
		if returnedErr != nil {
			span.SetTag("error", true)
		}

		entry := logger.WithFields(logrus.Fields{
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if returnedErr != nil {
			entry = entry.WithError(returnedErr)
		}
		entry.Debug("conduit call")
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Method: method, Err: err}
		}
	}

	flat, err := FlattenParams(params)
	if err != nil {
		return fmt.Errorf("conduit %s: %w", method, err)
	}

	form := url.Values{}
	for key, value := range flat {
		form.Set(key, value)
	}
	form.Set("api.token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+method, strings.NewReader(form.Encode()))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &TransportError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	// The envelope is authoritative, the HTTP status is not.
	if code := env.errorCode(); code != "" {
		info := ""
		if env.ErrorInfo != nil {
			info = *env.ErrorInfo
		}
		return &Error{Method: method, Code: code, Info: info}
	}

	if result == nil {
		return nil
	}

	if len(bytes.TrimSpace(env.Result)) == 0 || string(env.Result) == "null" {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: errors.New("response has no result")}
	}

	if err := json.Unmarshal(env.Result, result); err != nil {
		return &TransportError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding result: %w", err),
		}
	}

	return nil
}
