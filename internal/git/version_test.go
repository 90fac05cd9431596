package git

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	for _, tc := range []struct {
		versionString string
		expected      Version
		expectedErr   bool
	}{
		{versionString: "2.33.1", expected: Version{versionString: "2.33.1", major: 2, minor: 33, patch: 1}},
		{versionString: "2.25.0.rc1", expected: Version{versionString: "2.25.0.rc1", major: 2, minor: 25, rc: true}},
		{versionString: "2.31.0-rc0", expected: Version{versionString: "2.31.0-rc0", major: 2, minor: 31, rc: true}},
		{versionString: "2.34.GIT", expected: Version{versionString: "2.34.GIT", major: 2, minor: 34}},
		{versionString: "2.34", expectedErr: true},
		{versionString: "x.y.z", expectedErr: true},
	} {
		t.Run(tc.versionString, func(t *testing.T) {
			version, err := parseVersion(tc.versionString)
			if tc.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, version)
		})
	}
}

func TestVersion_IsSupported(t *testing.T) {
	for _, tc := range []struct {
		version   string
		supported bool
	}{
		{version: "2.24.9", supported: false},
		{version: "2.25.0.rc2", supported: false},
		{version: "2.25.0", supported: true},
		{version: "2.40.1", supported: true},
		{version: "3.0.0", supported: true},
	} {
		t.Run(tc.version, func(t *testing.T) {
			version, err := parseVersion(tc.version)
			require.NoError(t, err)
			require.Equal(t, tc.supported, version.IsSupported())
		})
	}
}
