package conf

import (
	"github.com/spf13/viper"

	"github.com/hearbird/hearbird/internal/buildinfo"
)

// Context is shared by all CLI commands. Viper holds defaults, environment
// bindings and command flags; Settings is filled in once the root command
// has loaded the configuration.
type Context struct {
	Build    *buildinfo.Context
	Viper    *viper.Viper
	Settings *Settings
}

// NewContext creates a command context with a fresh viper instance.
func NewContext(build *buildinfo.Context) (*Context, error) {
	v, err := New()
	if err != nil {
		return nil, err
	}
	return &Context{Build: build, Viper: v}, nil
}
