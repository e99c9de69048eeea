package trace

// Version information for the Pure-Go memory tracer.
const (
	// Version is the current version of the tracer runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the tracer.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Capturing indicates whether event recording is currently active.
	Capturing bool
}

// GetInfo returns information about the tracer runtime.
//
// Example:
//
//	info := trace.GetInfo()
//	fmt.Printf("memtracer %s (capturing: %v)\n", info.Version, info.Capturing)
func GetInfo() Info {
	return Info{
		Version:   Version,
		Capturing: IsCapturing(),
	}
}
