package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapabilities(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		caps, err := NewCapabilities(DefaultCapabilityNames())
		require.NoError(t, err)
		assert.Equal(t, []string{"enumerate", "len", "max", "min", "print", "range", "sleep", "sum"}, caps.Names())
		for _, name := range DefaultCapabilityNames() {
			assert.True(t, caps.Has(name), name)
		}
		assert.False(t, caps.Has("open"))
		assert.False(t, caps.Has("type"))
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := NewCapabilities([]string{"print", "open"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown capability: open")
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := NewCapabilities([]string{"print", "print"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate capability: print")
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := NewCapabilities(nil)
		require.Error(t, err)
	})

	t.Run("NamesIsACopy", func(t *testing.T) {
		caps, err := NewCapabilities([]string{"print", "len"})
		require.NoError(t, err)
		names := caps.Names()
		names[0] = "open"
		assert.Equal(t, []string{"len", "print"}, caps.Names())
	})

	t.Run("UniverseShadowed", func(t *testing.T) {
		caps, err := NewCapabilities([]string{"print"})
		require.NoError(t, err)
		assert.True(t, caps.isPredeclared("type"))
		assert.True(t, caps.isPredeclared("len"))
		assert.False(t, caps.isPredeclared("None"))
		assert.False(t, caps.isPredeclared("open"))
	})
}
