package deploy

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	fn := func(*DeployR) error { return nil }

	require.NoError(t, reg.Register("WorkerFc", fn))

	got, ok := reg.Lookup("WorkerFc")
	assert.True(t, ok)
	assert.NotNil(t, got)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateNameIsConfigurationError(t *testing.T) {
	reg := NewRegistry()
	fn := func(*DeployR) error { return nil }

	require.NoError(t, reg.Register("f", fn))
	err := reg.Register("f", fn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRegistry_NilFunctionPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() {
		_ = reg.Register("f", nil)
	})
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	fn := func(*DeployR) error { return nil }
	require.NoError(t, reg.Register("zeta", fn))
	require.NoError(t, reg.Register("alpha", fn))
	require.NoError(t, reg.Register("mid", fn))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}
