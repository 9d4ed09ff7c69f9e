// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// BuildInfo provides an interface for accessing build-time metadata.
type BuildInfo interface {
	// GetVersion returns the build version string
	GetVersion() string
	// GetBuildDate returns the build date string
	GetBuildDate() string
	// GetCommit returns the source revision
	GetCommit() string
}

// Context contains build-time metadata that is not user-configurable.
// It is injected at startup from linker flags in main.
type Context struct {
	Version   string
	BuildDate string
	Commit    string
}

// NewContext creates a Context
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// GetCommit implements BuildInfo.GetCommit
func (c *Context) GetCommit() string {
	if c == nil || c.Commit == "" {
		return UnknownValue
	}
	return c.Commit
}

// Release returns the release identifier used for error telemetry
func (c *Context) Release() string {
	return "hearbird@" + c.GetVersion()
}

// String formats the metadata for the version command
func (c *Context) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", c.GetVersion(), c.GetCommit(), c.GetBuildDate())
}
