package git

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// minimumVersion is the oldest git known to support everything packrat
// runs, most notably `git bundle list-heads` on v2 bundles and
// `--end-of-options`.
var minimumVersion = Version{
	versionString: "2.25.0",
	major:         2,
	minor:         25,
	patch:         0,
}

// Version represents the version of git itself.
type Version struct {
	// versionString is the string representation of the version as printed
	// by git, which carries more information than the parsed fields.
	versionString       string
	major, minor, patch uint32
	rc                  bool
}

// CurrentVersion returns the used git version.
func CurrentVersion(ctx context.Context, gitCmdFactory CommandFactory) (Version, error) {
	var stdout bytes.Buffer
	cmd, err := gitCmdFactory.NewWithoutRepo(ctx, SubCmd{
		Name: "version",
	}, WithStdout(&stdout))
	if err != nil {
		return Version{}, fmt.Errorf("spawning version command: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return Version{}, fmt.Errorf("waiting for version command: %w", err)
	}

	versionOutput := stdout.Bytes()

	trimmedVersionOutput := strings.Trim(string(versionOutput), " \n")
	versionString := strings.SplitN(trimmedVersionOutput, " ", 3)
	if len(versionString) != 3 {
		return Version{}, fmt.Errorf("invalid version format: %q", string(versionOutput))
	}

	version, err := parseVersion(versionString[2])
	if err != nil {
		return Version{}, fmt.Errorf("cannot parse git version: %w", err)
	}

	return version, nil
}

// String returns the string representation of the version.
func (v Version) String() string {
	return v.versionString
}

// IsSupported checks if the version is recent enough for packrat.
func (v Version) IsSupported() bool {
	return !v.LessThan(minimumVersion)
}

// LessThan determines whether the version is older than another version.
func (v Version) LessThan(other Version) bool {
	switch {
	case v.major != other.major:
		return v.major < other.major
	case v.minor != other.minor:
		return v.minor < other.minor
	case v.patch != other.patch:
		return v.patch < other.patch
	default:
		return v.rc && !other.rc
	}
}

func parseVersion(versionStr string) (Version, error) {
	versionSplit := strings.SplitN(versionStr, ".", 4)
	if len(versionSplit) < 3 {
		return Version{}, fmt.Errorf("expected major.minor.patch in %q", versionStr)
	}

	ver := Version{
		versionString: versionStr,
	}

	for i, v := range []*uint32{&ver.major, &ver.minor, &ver.patch} {
		// Git falls back to vx.x.GIT if it's unable to describe the current
		// version.
		if versionSplit[i] == "GIT" {
			continue
		}

		rcSplit := strings.SplitN(versionSplit[i], "-", 2)
		n64, err := strconv.ParseUint(rcSplit[0], 10, 32)
		if err != nil {
			return Version{}, err
		}
		if len(rcSplit) == 2 && strings.HasPrefix(rcSplit[1], "rc") {
			ver.rc = true
		}

		*v = uint32(n64)
	}

	if len(versionSplit) == 4 && strings.HasPrefix(versionSplit[3], "rc") {
		ver.rc = true
	}

	return ver, nil
}
