package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThePrimedTNT/astolfo/internal/permissions"
)

func TestUnknownGuildGetsDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	defer s.Close()

	g := s.Guild("nope")
	assert.Empty(t, g.Prefix)
	assert.Empty(t, g.BlacklistedChannels)
	assert.Empty(t, g.Permissions)
}

func TestBlacklistToggle(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BlacklistChannel("g1", "c1"))
	require.NoError(t, s.BlacklistChannel("g1", "c1")) // idempotent
	assert.True(t, s.Guild("g1").ChannelBlacklisted("c1"))
	assert.False(t, s.Guild("g1").ChannelBlacklisted("c2"))

	require.NoError(t, s.UnblacklistChannel("g1", "c1"))
	assert.False(t, s.Guild("g1").ChannelBlacklisted("c1"))
}

func TestGrantReplacesSameTuple(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	defer s.Close()

	row := permissions.Setting{RoleID: "r1", ChannelID: "", Node: "music", Allow: true}
	require.NoError(t, s.Grant("g1", row))

	row.Allow = false
	require.NoError(t, s.Grant("g1", row))

	perms := s.Guild("g1").Permissions
	require.Len(t, perms, 1)
	assert.False(t, perms[0].Allow)
}

func TestRevokeRemovesOnlyMatchingTuple(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Grant("g1", permissions.Setting{RoleID: "r1", Node: "music", Allow: true}))
	require.NoError(t, s.Grant("g1", permissions.Setting{RoleID: "r1", ChannelID: "c1", Node: "music", Allow: false}))

	require.NoError(t, s.Revoke("g1", "r1", "", "music"))

	perms := s.Guild("g1").Permissions
	require.Len(t, perms, 1)
	assert.Equal(t, "c1", perms[0].ChannelID)
}

func TestSettingsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetPrefix("g1", "!"))
	require.NoError(t, s.BlacklistChannel("g1", "c1"))
	require.NoError(t, s.Grant("g1", permissions.Setting{RoleID: "r1", Node: "music.play", Allow: true}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	g := s.Guild("g1")
	assert.Equal(t, "!", g.Prefix)
	assert.True(t, g.ChannelBlacklisted("c1"))
	require.Len(t, g.Permissions, 1)
	assert.Equal(t, "music.play", g.Permissions[0].Node)
	assert.True(t, g.Permissions[0].Allow)
}
