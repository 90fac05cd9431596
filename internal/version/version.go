package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// SourceURL is where the source code of this build lives.
const SourceURL = "https://gitlab.com/packrat/packrat"

var (
	version   string
	buildtime string
	commit    string
)

// GetVersionString returns a standard version header
func GetVersionString() string {
	return fmt.Sprintf("packrat, version %v", GetVersion())
}

// GetVersion returns the semver compatible version number
func GetVersion() string {
	if version == "" {
		return "dev"
	}
	return version
}

// GetBuildTime returns the time at which the build took place
func GetBuildTime() string {
	return buildtime
}

// Info is the payload served on the dockerflow version endpoint.
type Info struct {
	Source  string  `json:"source"`
	Version *string `json:"version"`
	Commit  *string `json:"commit"`
	Build   string  `json:"build"`
}

// Default describes the running binary.
func Default() Info {
	info := Info{
		Source: SourceURL,
		Build:  "dev",
	}
	if version != "" {
		info.Version = &version
	}
	if commit != "" {
		info.Commit = &commit
	}
	if buildtime != "" {
		info.Build = buildtime
	}
	return info
}

// Load reads version information from a version.json file as produced by
// the container build. A missing file yields Default().
func Load(path string) (Info, error) {
	if path == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	} else if err != nil {
		return Info{}, fmt.Errorf("reading version file: %w", err)
	}

	var info Info
	if err := json.Unmarshal(content, &info); err != nil {
		return Info{}, fmt.Errorf("decoding version file %q: %w", path, err)
	}
	if info.Source == "" {
		info.Source = SourceURL
	}

	return info, nil
}
