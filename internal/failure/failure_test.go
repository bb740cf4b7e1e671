package failure

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilPassthrough(t *testing.T) {
	assert.NoError(t, New(DataUnavailable, nil))
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(UnsupportedFormat, eris.New("source: unknown extension .xyz"))
	wrapped := eris.Wrap(base, "layer: load coastline")

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, UnsupportedFormat, kind)
	assert.True(t, Is(wrapped, UnsupportedFormat))
	assert.False(t, Is(wrapped, DataUnavailable))
	assert.Contains(t, wrapped.Error(), "unknown extension")
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(New(DataUnavailable, errors.New("missing"))))
	assert.True(t, Recoverable(New(Configuration, errors.New("bad recipe"))))
	for _, k := range []Kind{DataUnavailable, UnsupportedFormat, Configuration, DegenerateInput} {
		assert.True(t, Recoverable(eris.Wrap(New(k, errors.New("x")), "wrapped")), k.String())
	}
	assert.False(t, Recoverable(errors.New("plain")))
	assert.False(t, Recoverable(nil))
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{DataUnavailable, "data_unavailable"},
		{UnsupportedFormat, "unsupported_format"},
		{Configuration, "configuration"},
		{DegenerateInput, "degenerate_input"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
