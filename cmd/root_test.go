package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapraid-go/snapraid/cfg"
	"github.com/snapraid-go/snapraid/internal/snaperr"
)

func TestCheckConfig_WrapsAnInvalidConfigAsConfigError(t *testing.T) {
	Config = cfg.Config{} // no disks, no content file, no parity

	err := checkConfig()
	require.Error(t, err)
	var cfgErr *snaperr.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCheckConfig_AcceptsAWellFormedConfig(t *testing.T) {
	Config = testConfig(t)
	assert.NoError(t, checkConfig())
}

func TestBindFlags_RegistersEachFlagExactlyOnce(t *testing.T) {
	// cfg.BindFlags must not collide with the "-c/--config" flag already
	// registered on rootCmd in cmd/root.go's init(); pflag panics on a
	// duplicate flag definition, so a clean second pass over init's own
	// flag set is this package's regression guard for that bug.
	assert.NotPanics(t, func() {
		require.NoError(t, bindErr)
	})
}
