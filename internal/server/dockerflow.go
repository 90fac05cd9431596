package server

import (
	"fmt"
	"net/http"
	"os"

	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/log"
)

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		next.ServeHTTP(w, r)
	})
}

// heartbeat reports whether packrat can do its work: the mirrors directory
// must be writable and a supported git must be installed.
func (s *server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	checks := map[string]string{}

	if err := checkWritableDir(s.reposPath); err != nil {
		log.FromContext(ctx).WithError(err).Warn("heartbeat: repos path")
		checks["repos_path"] = err.Error()
		status = http.StatusInternalServerError
	} else {
		checks["repos_path"] = "ok"
	}

	gitVersion, err := git.CurrentVersion(ctx, s.gitCmdFactory)
	switch {
	case err != nil:
		log.FromContext(ctx).WithError(err).Warn("heartbeat: git")
		checks["git"] = err.Error()
		status = http.StatusInternalServerError
	case !gitVersion.IsSupported():
		checks["git"] = fmt.Sprintf("unsupported git version %s", gitVersion)
		status = http.StatusInternalServerError
	default:
		checks["git"] = "ok"
	}

	writeJSON(w, status, "application/json", checks)
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %q", path)
	}

	f, err := os.CreateTemp(path, ".heartbeat-*")
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(f.Name())
}

func (s *server) lbHeartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", struct{}{})
}

func (s *server) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", s.versionInfo)
}
