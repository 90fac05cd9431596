package git

import (
	"strings"
)

// Revision represents anything that resolves to either a commit, multiple
// commits or to an object different than a commit. This could be e.g.
// "master", "master^{commit}", an object hash or similar. See gitrevisions(1)
// for supported syntax.
type Revision string

// String returns the string representation of the Revision.
func (r Revision) String() string {
	return string(r)
}

// Parent returns the revision selecting the first parent of r.
func (r Revision) Parent() Revision {
	return r + "^1"
}

// Commit returns the revision peeled to a commit.
func (r Revision) Commit() Revision {
	return r + "^{commit}"
}

// ReferenceName represents the name of a git reference, e.g.
// "refs/heads/master". It must always contain a fully qualified reference.
type ReferenceName string

// String returns the string representation of the ReferenceName.
func (r ReferenceName) String() string {
	return string(r)
}

// ShortName strips the refs/heads/ or refs/tags/ prefix off branches and
// tags. It returns false for all other references.
func (r ReferenceName) ShortName() (string, bool) {
	for _, prefix := range []string{"refs/heads/", "refs/tags/"} {
		if strings.HasPrefix(r.String(), prefix) {
			return r.String()[len(prefix):], true
		}
	}
	return "", false
}

// Reference represents a Git reference.
type Reference struct {
	Name   ReferenceName
	Target ObjectID
}
