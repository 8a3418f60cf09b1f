package threshold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Constructors(t *testing.T) {
	a, err := ActionFromCID("QmFoo", "test")
	require.NoError(t, err)
	assert.True(t, a.IsReference())
	assert.Equal(t, "QmFoo", a.CID())
	assert.Empty(t, a.Code())

	a, err = ActionFromCode("return 1", "test")
	require.NoError(t, err)
	assert.False(t, a.IsReference())
	assert.Equal(t, "return 1", a.Code())
	assert.Empty(t, a.CID())

	_, err = ActionFromCID("  ", "test")
	require.Error(t, err)
	_, err = ActionFromCode("", "test")
	require.Error(t, err)
}

func TestRegistry_Builtin(t *testing.T) {
	r := NewRegistry("naga-dev")
	a, err := r.Resolve(ActionContentRegister)
	require.NoError(t, err)
	assert.True(t, a.IsReference())
	assert.Equal(t, "builtin:naga-dev", a.Source())
}

func TestRegistry_UnknownNetworkAndName(t *testing.T) {
	_, err := NewRegistry("no-such-network").Resolve(ActionContentRegister)
	require.Error(t, err)

	_, err = NewRegistry("naga-dev").Resolve("no-such-action")
	require.Error(t, err)
}

func TestRegistry_EnvCIDOverride(t *testing.T) {
	t.Setenv("HEAVEN_ACTION_CID_CONTENT_GRANT", "QmOverride")

	a, err := NewRegistry("naga-dev").Resolve(ActionContentGrant)
	require.NoError(t, err)
	assert.Equal(t, "QmOverride", a.CID())
	assert.Equal(t, "env:cid", a.Source())
}

func TestRegistry_EnvFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "action.js")
	require.NoError(t, os.WriteFile(path, []byte("const x = 1;"), 0o600))
	t.Setenv("HEAVEN_ACTION_FILE_DECRYPT_KEY", path)

	a, err := NewRegistry("naga-dev").Resolve(ActionDecryptKey)
	require.NoError(t, err)
	assert.False(t, a.IsReference())
	assert.Equal(t, "const x = 1;", a.Code())
	assert.Equal(t, "env:file", a.Source())
}

func TestRegistry_CIDOverrideBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "action.js")
	require.NoError(t, os.WriteFile(path, []byte("code"), 0o600))
	t.Setenv("HEAVEN_ACTION_FILE_CONTENT_RESOLVE", path)
	t.Setenv("HEAVEN_ACTION_CID_CONTENT_RESOLVE", "QmWins")

	a, err := NewRegistry("naga-dev").Resolve(ActionContentResolve)
	require.NoError(t, err)
	assert.Equal(t, "QmWins", a.CID())
}
