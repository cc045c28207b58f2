package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/errdefs"
)

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "carrier-pigeon", Bundle{})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindInvalidArgument, errdefs.KindOf(err))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	factory := func(ctx context.Context, b Bundle) (Provider, error) { return nil, nil }

	Register("dup-test", factory)
	assert.Contains(t, Names(), "dup-test")
	assert.Panics(t, func() { Register("dup-test", factory) })
}

func TestBundle_TypedAccess(t *testing.T) {
	t.Parallel()

	b := Bundle{
		Credentials: map[string]string{"access_key": "AK"},
		Settings:    map[string]any{"bucket": "data", "port": 42},
	}
	assert.Equal(t, "AK", b.Credential("access_key"))
	assert.Equal(t, "", b.Credential("missing"))
	assert.Equal(t, "data", b.Setting("bucket"))
	assert.Equal(t, "", b.Setting("port"), "non-string settings coerce to empty")
}

func TestParseConflict_DefaultIsWarn(t *testing.T) {
	t.Parallel()

	c, err := ParseConflict("")
	require.NoError(t, err)
	assert.Equal(t, ConflictWarn, c)

	for _, raw := range []string{"warn", "replace", "keep"} {
		c, err := ParseConflict(raw)
		require.NoError(t, err)
		assert.Equal(t, Conflict(raw), c)
	}

	_, err = ParseConflict("overwrite")
	assert.Equal(t, errdefs.KindInvalidArgument, errdefs.KindOf(err))
}
