package scm

// Version is the current version of the go-scm library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Protocol is the service control protocol modeled
	Protocol string
	// Backends lists the supervisor backends compiled into this build
	Backends []Backend
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:  Version,
		Protocol: "scm",
		Backends: compiledBackends(),
	}
}
