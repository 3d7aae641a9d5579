// Package version exposes the build version reported in bridge status records.
package version

// Set with -ldflags "-X github.com/p13marc/zensight-sub001/pkg/version.version=..."
//
//nolint:gochecknoglobals // These are intentionally global for ldflags injection
var (
	version = "dev"
	buildID = "dev"
)

// GetVersion returns the release version, "dev" for local builds.
func GetVersion() string {
	return version
}

func GetBuildID() string {
	return buildID
}

// GetFullVersion returns version with build ID
func GetFullVersion() string {
	return version + " (build: " + buildID + ")"
}

// BridgeVersion is the string a bridge of the given name puts in its status record.
func BridgeVersion(bridge string) string {
	return bridge + "/" + version
}
