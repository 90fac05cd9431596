package conduit

// URI I/O modes as reported by diffusion.repository.search.
const (
	RoleObserve   = "observe"
	RoleMirror    = "mirror"
	RoleRead      = "read"
	RoleReadWrite = "readwrite"
	RoleNone      = "none"
)

// Repository is a repository hosted by the review service.
type Repository struct {
	ID       int    `json:"id"`
	PHID     string `json:"phid"`
	Callsign string `json:"callsign"`
	Name     string `json:"name"`
	URIs     []URI  `json:"uris"`
}

// URI is one of the URIs a repository is reachable at.
type URI struct {
	PHID string `json:"phid"`
	// Role is the effective I/O mode of the URI.
	Role string `json:"role"`
	// URL is the effective URI.
	URL string `json:"url"`
}

// ObserveURI returns the URI the review service observes the repository
// from. The boolean is false if there is none.
func (r *Repository) ObserveURI() (URI, bool) {
	for _, uri := range r.URIs {
		if uri.Role == RoleObserve {
			return uri, true
		}
	}
	return URI{}, false
}

// Diff is a diff created on the review service.
type Diff struct {
	ID             int    `json:"id"`
	PHID           string `json:"phid"`
	URI            string `json:"uri"`
	RepositoryPHID string `json:"repositoryPHID,omitempty"`
}

// Transaction is a single edit applied to a revision.
type Transaction struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ObjectRef identifies an object of the review service.
type ObjectRef struct {
	ID   int    `json:"id,omitempty"`
	PHID string `json:"phid"`
}

// Revision is the result of creating or updating a revision.
type Revision struct {
	Object ObjectRef `json:"object"`
	// Transactions are the transactions the service applied.
	Transactions []ObjectRef `json:"transactions"`
	// DiffPHID is the diff the revision was updated to.
	DiffPHID string `json:"diffPHID"`
}

type repositorySearchResult struct {
	Data []struct {
		ID     int    `json:"id"`
		PHID   string `json:"phid"`
		Fields struct {
			Name     string `json:"name"`
			Callsign string `json:"callsign"`
		} `json:"fields"`
		Attachments struct {
			URIs struct {
				URIs []struct {
					PHID   string `json:"phid"`
					Fields struct {
						URI struct {
							Effective string `json:"effective"`
						} `json:"uri"`
						IO struct {
							Effective string `json:"effective"`
						} `json:"io"`
					} `json:"fields"`
				} `json:"uris"`
			} `json:"uris"`
		} `json:"attachments"`
	} `json:"data"`
}

func (r repositorySearchResult) repositories() []Repository {
	repos := make([]Repository, 0, len(r.Data))
	for _, item := range r.Data {
		repo := Repository{
			ID:       item.ID,
			PHID:     item.PHID,
			Callsign: item.Fields.Callsign,
			Name:     item.Fields.Name,
		}
		for _, uri := range item.Attachments.URIs.URIs {
			repo.URIs = append(repo.URIs, URI{
				PHID: uri.PHID,
				Role: uri.Fields.IO.Effective,
				URL:  uri.Fields.URI.Effective,
			})
		}
		repos = append(repos, repo)
	}
	return repos
}
