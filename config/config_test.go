package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdmin struct{ ok bool }

func (f fakeAdmin) HasAdminCapability() bool { return f.ok }

type fakeToken struct{ ok bool }

func (f fakeToken) HasCredential(credType string, credValue int64) bool { return f.ok }

func TestUnrestrictedBeforeHashlistInit(t *testing.T) {
	s := New(fakeAdmin{ok: false}, fakeToken{ok: false})
	require.NoError(t, s.WriteEnforce(HashCheckBit))
	v, err := s.ReadEnforce()
	require.NoError(t, err)
	require.Equal(t, HashCheckBit, v)
}

func TestAdminGatedAfterHashlistInit(t *testing.T) {
	s := New(fakeAdmin{ok: false}, fakeToken{ok: false})
	s.MarkHashlistInitialized()

	_, err := s.ReadEnforce()
	require.ErrorIs(t, err, ErrPermissionDenied)

	s2 := New(fakeAdmin{ok: true}, fakeToken{ok: false})
	s2.MarkHashlistInitialized()
	_, err = s2.ReadEnforce()
	require.NoError(t, err)
}

func TestSealedGatedByTokenNotAdmin(t *testing.T) {
	s := New(fakeAdmin{ok: true}, fakeToken{ok: false})
	s.MarkHashlistInitialized()
	require.NoError(t, s.WriteEnable(SealBit))

	_, err := s.ReadEnforce()
	require.ErrorIs(t, err, ErrPermissionDenied, "admin alone should no longer suffice once sealed")

	sealedOK := New(fakeAdmin{ok: true}, fakeToken{ok: true})
	sealedOK.MarkHashlistInitialized()
	require.NoError(t, sealedOK.WriteEnable(SealBit))
	_, err = sealedOK.ReadEnforce()
	require.NoError(t, err)
}

func TestWriteEnforceRejectsSealed(t *testing.T) {
	s := New(fakeAdmin{ok: true}, fakeToken{ok: true})
	require.NoError(t, s.WriteEnable(SealBit))
	err := s.WriteEnforce(HashCheckBit)
	require.Error(t, err)
}

func TestWriteEnforceRejectsOutOfRange(t *testing.T) {
	s := New(fakeAdmin{ok: true}, fakeToken{ok: true})
	err := s.WriteEnforce(EnforceAll + 1)
	require.Error(t, err)
}

func TestDevOrigRoundTrip(t *testing.T) {
	s := New(fakeAdmin{ok: true}, fakeToken{ok: true})
	require.NoError(t, s.WriteDevOrig(-7))
	v, err := s.ReadDevOrig()
	require.NoError(t, err)
	require.EqualValues(t, -7, v)
}

func TestLegacyAliases(t *testing.T) {
	aliases := LegacyAliases()
	require.Equal(t, [2]string{"validator/enforce", "digsig/enforce"}, aliases["enforce"])
	require.True(t, IsKnownEntry("enabled"))
	require.False(t, IsKnownEntry("bogus"))
}

func TestSnapshotReflectsEnableWrite(t *testing.T) {
	s := New(fakeAdmin{ok: true}, fakeToken{ok: true})
	require.NoError(t, s.WriteEnable(ListedOnlyBit|HashReqBit))
	snap := s.Snapshot()
	require.True(t, snap.ListedOnly)
	require.True(t, snap.HashRequired)
}
