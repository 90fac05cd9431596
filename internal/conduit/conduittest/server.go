// Package conduittest provides a fake Conduit API for tests.
package conduittest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// URI is a URI of a fake repository.
type URI struct {
	Role string
	URL  string
}

// Repository is a repository known to the fake service.
type Repository struct {
	Callsign string
	PHID     string
	Name     string
	URIs     []URI
}

// ErrorResponse is a logical error returned by the fake service.
type ErrorResponse struct {
	Code string
	Info string
}

// ServerOptions configure the fake service.
type ServerOptions struct {
	// Tokens are the API tokens accepted by the service.
	Tokens []string
	// Repositories are returned by diffusion.repository.search.
	Repositories []Repository
	// Errors maps methods to errors they fail with.
	Errors map[string]ErrorResponse
	// RawResponses maps methods to response bodies sent verbatim with the
	// given status code.
	RawResponses map[string]RawResponse
}

// RawResponse is a response sent as is.
type RawResponse struct {
	StatusCode int
	Body       string
}

// Call is a recorded call to the fake service.
type Call struct {
	Method string
	Form   url.Values
}

// Server is a fake Conduit API.
type Server struct {
	URL string

	opts    ServerOptions
	mu      sync.Mutex
	calls   []Call
	diffs   []string
	counter map[string]int
}

// NewServer starts a fake Conduit API which is shut down when the test
// finishes.
func NewServer(t testing.TB, opts ServerOptions) *Server {
	t.Helper()

	s := &Server{opts: opts, counter: map[string]int{}}

	server := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(server.Close)
	s.URL = server.URL

	return s
}

// Calls returns all calls received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods returns the methods of all calls received so far, in order.
func (s *Server) Methods() []string {
	var methods []string
	for _, call := range s.Calls() {
		methods = append(methods, call.Method)
	}
	return methods
}

// Diffs returns the raw diffs uploaded so far.
func (s *Server) Diffs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.diffs...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not POST", http.StatusMethodNotAllowed)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "could not parse form", http.StatusBadRequest)
		return
	}

	method := strings.TrimPrefix(r.URL.Path, "/api/")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Method: method, Form: r.PostForm})

	if raw, ok := s.opts.RawResponses[method]; ok {
		w.WriteHeader(raw.StatusCode)
		fmt.Fprint(w, raw.Body)
		return
	}

	if !s.validToken(r.PostForm.Get("api.token")) {
		writeError(w, ErrorResponse{Code: "ERR-INVALID-AUTH", Info: "API token is invalid."})
		return
	}

	if errResp, ok := s.opts.Errors[method]; ok {
		writeError(w, errResp)
		return
	}

	switch method {
	case "user.whoami":
		writeResult(w, map[string]interface{}{"phid": "PHID-USER-1", "userName": "scrooge"})
	case "diffusion.repository.search":
		writeResult(w, s.searchRepositories(r.PostForm))
	case "differential.createrawdiff":
		s.diffs = append(s.diffs, r.PostForm.Get("diff"))
		id := s.id("diff")
		writeResult(w, map[string]interface{}{
			"id":   id,
			"phid": fmt.Sprintf("PHID-DIFF-%d", id),
			"uri":  fmt.Sprintf("%s/differential/diff/%d/", s.URL, id),
		})
	case "differential.revision.edit":
		writeResult(w, s.editRevision(r.PostForm))
	default:
		writeError(w, ErrorResponse{Code: "ERR-CONDUIT-CALL", Info: fmt.Sprintf("Conduit method %q does not exist.", method)})
	}
}

func (s *Server) validToken(token string) bool {
	for _, valid := range s.opts.Tokens {
		if token == valid {
			return true
		}
	}
	return false
}

func (s *Server) id(kind string) int {
	s.counter[kind]++
	return s.counter[kind]
}

func (s *Server) searchRepositories(form url.Values) map[string]interface{} {
	callsign := form.Get("constraints[callsigns][0]")
	withURIs := form.Get("attachments[uris]") == "true"

	data := []interface{}{}
	for i, repo := range s.opts.Repositories {
		if repo.Callsign != callsign {
			continue
		}

		uris := []interface{}{}
		for j, uri := range repo.URIs {
			uris = append(uris, map[string]interface{}{
				"phid": fmt.Sprintf("PHID-RURI-%d%d", i, j),
				"fields": map[string]interface{}{
					"uri": map[string]interface{}{"raw": uri.URL, "effective": uri.URL},
					"io":  map[string]interface{}{"raw": "default", "effective": uri.Role},
				},
			})
		}

		item := map[string]interface{}{
			"id":   i + 1,
			"phid": repo.PHID,
			"fields": map[string]interface{}{
				"name":     repo.Name,
				"callsign": repo.Callsign,
			},
			"attachments": map[string]interface{}{},
		}
		if withURIs {
			item["attachments"] = map[string]interface{}{
				"uris": map[string]interface{}{"uris": uris},
			}
		}
		data = append(data, item)
	}

	return map[string]interface{}{"data": data}
}

func (s *Server) editRevision(form url.Values) map[string]interface{} {
	var objectID int
	var objectPHID string
	if identifier := form.Get("objectIdentifier"); identifier != "" {
		fmt.Sscanf(strings.TrimPrefix(identifier, "D"), "%d", &objectID)
		objectPHID = fmt.Sprintf("PHID-DREV-%d", objectID)
		if strings.HasPrefix(identifier, "PHID-") {
			objectPHID = identifier
		}
	} else {
		objectID = s.id("revision")
		objectPHID = fmt.Sprintf("PHID-DREV-%d", objectID)
	}

	transactions := []interface{}{}
	for i := 0; form.Get(fmt.Sprintf("transactions[%d][type]", i)) != ""; i++ {
		transactions = append(transactions, map[string]interface{}{
			"phid": fmt.Sprintf("PHID-XACT-DREV-%d", s.id("transaction")),
		})
	}

	return map[string]interface{}{
		"object":       map[string]interface{}{"id": objectID, "phid": objectPHID},
		"transactions": transactions,
	}
}

func writeResult(w http.ResponseWriter, result interface{}) {
	writeEnvelope(w, map[string]interface{}{
		"result":     result,
		"error_code": nil,
		"error_info": nil,
	})
}

func writeError(w http.ResponseWriter, errResp ErrorResponse) {
	writeEnvelope(w, map[string]interface{}{
		"result":     nil,
		"error_code": errResp.Code,
		"error_info": errResp.Info,
	})
}

func writeEnvelope(w http.ResponseWriter, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	// Conduit answers logical errors with 200 as well.
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
