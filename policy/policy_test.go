package policy

import (
	"context"
	"crypto/sha1"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/aegisvalidator/cache"
	"github.com/nestybox/aegisvalidator/config"
	"github.com/nestybox/aegisvalidator/credential"
	"github.com/nestybox/aegisvalidator/hashlist"
	"github.com/nestybox/aegisvalidator/mount"
)

type fakeAdmin struct{}

func (fakeAdmin) HasAdminCapability() bool { return true }

type fakeToken struct{}

func (fakeToken) HasCredential(credType string, credValue int64) bool { return true }

type permissiveService struct{}

func (permissiveService) DefineSource(name string) (int64, error) { return 1, nil }
func (permissiveService) HasCredential(credType string, credValue int64) bool { return true }
func (permissiveService) MayLoad(srcID int64, invoker credential.Credentials) bool { return true }

func newTestEvaluator(t *testing.T) (*Evaluator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	cfg := config.New(fakeAdmin{}, fakeToken{})
	require.NoError(t, cfg.WriteEnforce(config.HashCheckBit|config.AttribCheckBit))

	ev := NewEvaluator(cache.New(16), hashlist.NewRegistry(), cfg, permissiveService{}, nil, fs, nil)
	return ev, fs
}

func TestCheckExecutableAllowsOnMatch(t *testing.T) {
	ev, fs := newTestEvaluator(t)
	content := []byte("executable content")
	require.NoError(t, afero.WriteFile(fs, "/bin/tool", content, 0o755))
	sum := sha1.Sum(content)

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{
		Node: hashlist.NodeExecutable, Ino: 10, UID: 0, GID: 0, Mode: 0o755, SrcID: 1, Hash: sum,
	})

	f := File{Device: 1, Ino: 10, UID: 0, GID: 0, Mode: 0o755, Path: "/bin/tool"}
	v := ev.CheckExecutable(context.Background(), f, BprmCheck, credential.Credentials{})
	require.True(t, v.Allow)
	require.Equal(t, ROK, v.Reason)

	srcID, ok := ev.Cache.Lookup(1, 10)
	require.True(t, ok)
	require.EqualValues(t, 1, srcID)
}

func TestCheckExecutableDeniesOnHashMismatch(t *testing.T) {
	ev, fs := newTestEvaluator(t)
	require.NoError(t, afero.WriteFile(fs, "/bin/tool", []byte("tampered"), 0o755))

	var wrongHash [20]byte
	ev.Hashlists.Volume(1).Insert(hashlist.Entry{
		Node: hashlist.NodeExecutable, Ino: 10, UID: 0, GID: 0, Mode: 0o755, SrcID: 1, Hash: wrongHash,
	})

	f := File{Device: 1, Ino: 10, UID: 0, GID: 0, Mode: 0o755, Path: "/bin/tool"}
	v := ev.CheckExecutable(context.Background(), f, BprmCheck, credential.Credentials{})
	require.False(t, v.Allow)
	require.Equal(t, RHash, v.Reason)
}

func TestCheckExecutableDeniesOnAttributeMismatch(t *testing.T) {
	ev, fs := newTestEvaluator(t)
	content := []byte("x")
	require.NoError(t, afero.WriteFile(fs, "/bin/tool", content, 0o755))
	sum := sha1.Sum(content)

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{
		Node: hashlist.NodeExecutable, Ino: 10, UID: 0, GID: 0, Mode: 0o755, SrcID: 1, Hash: sum,
	})

	f := File{Device: 1, Ino: 10, UID: 1000, GID: 0, Mode: 0o755, Path: "/bin/tool"}
	v := ev.CheckExecutable(context.Background(), f, BprmCheck, credential.Credentials{})
	require.False(t, v.Allow)
	require.Equal(t, RAttrib, v.Reason)
}

func TestCheckExecutableListedOnlyDeniesUnlisted(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	cfg := ev.Config
	require.NoError(t, cfg.WriteEnable(config.ListedOnlyBit))

	f := File{Device: 1, Ino: 99, Path: "/bin/unknown"}
	v := ev.CheckExecutable(context.Background(), f, BprmCheck, credential.Credentials{})
	require.False(t, v.Allow)
	require.Equal(t, RHList, v.Reason)
}

func TestCheckExecutableCacheHitSkipsDigest(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	ev.Cache.Insert(1, 10, 1)

	// No hashlist entry and no file on disk: if the cache hit path tried
	// to digest anything this would fail, proving the short-circuit works.
	f := File{Device: 1, Ino: 10, Path: "/bin/does-not-exist"}
	v := ev.CheckExecutable(context.Background(), f, BprmCheck, credential.Credentials{})
	require.True(t, v.Allow)
}

func TestCheckDataOpenExemptSkipsHash(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit))

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeImmutableDir, Ino: 2})
	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeExempt, Ino: 5})

	f := File{Device: 1, Ino: 5, ParentIno: 2, Path: "/data/missing"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.True(t, v.Allow)
}

func TestCheckDataOpenUngatedParentAllowsUnconditionally(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit))

	// Parent ino 2 has no hashlist entry at all, so the open is never
	// gated in the first place: no measurement is performed.
	f := File{Device: 1, Ino: 5, ParentIno: 2, Path: "/data/whatever"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.True(t, v.Allow)
	require.Equal(t, ROK, v.Reason)
}

func TestCheckDataOpenGatedParentDeniesMissingOwnEntry(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit))

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeImmutableDir, Ino: 2})

	f := File{Device: 1, Ino: 5, ParentIno: 2, Path: "/data/unlisted"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.False(t, v.Allow)
	require.Equal(t, RHList, v.Reason)
}

func TestCheckDataOpenGatedParentRunsAttributeAndHashChecks(t *testing.T) {
	ev, fs := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit|config.AttribCheckBit))

	content := []byte("static payload")
	require.NoError(t, afero.WriteFile(fs, "/data/static.conf", content, 0o644))
	sum := sha1.Sum(content)

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeImmutableDir, Ino: 2})
	ev.Hashlists.Volume(1).Insert(hashlist.Entry{
		Node: hashlist.NodeStaticData, Ino: 5, UID: 0, GID: 0, Mode: 0o644, Hash: sum,
	})

	f := File{Device: 1, Ino: 5, ParentIno: 2, UID: 0, GID: 0, Mode: 0o644, Path: "/data/static.conf"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.True(t, v.Allow)
	require.Equal(t, ROK, v.Reason)
}

func TestCheckDataOpenGatedParentDeniesOnHashMismatch(t *testing.T) {
	ev, fs := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit|config.AttribCheckBit))

	require.NoError(t, afero.WriteFile(fs, "/data/static.conf", []byte("tampered"), 0o644))
	var wrongHash [20]byte

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeImmutableDir, Ino: 2})
	ev.Hashlists.Volume(1).Insert(hashlist.Entry{
		Node: hashlist.NodeStaticData, Ino: 5, UID: 0, GID: 0, Mode: 0o644, Hash: wrongHash,
	})

	f := File{Device: 1, Ino: 5, ParentIno: 2, UID: 0, GID: 0, Mode: 0o644, Path: "/data/static.conf"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.False(t, v.Allow)
	require.Equal(t, RHash, v.Reason)
}

func TestCheckDataOpenDirectoryListingAlwaysAllowed(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit))

	// The directory being opened has no own entry at all; as a directory
	// listing it must still be allowed.
	f := File{Device: 1, Ino: 2, Dir: true, Path: "/data"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.True(t, v.Allow)
}

func TestCheckWritePermissionNoEntryAllows(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	f := File{Device: 1, Ino: 1, Path: "/tmp/f"}
	v := ev.CheckWritePermission(f, credential.Credentials{})
	require.True(t, v.Allow)
}

type stubMountProbe struct {
	info *mount.Info
	err  error
}

func (s stubMountProbe) MountInfoFor(path string) (*mount.Info, error) { return s.info, s.err }

func TestCheckDataOpenProtectedDirAllowsWhenNotShadowed(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit))
	ev.Mounts = stubMountProbe{info: &mount.Info{VfsOpts: "upperdir=/overlay/upper,lowerdir=/overlay/lower"}}

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeProtectedDir, Ino: 9})

	f := File{Device: 1, Ino: 9, Dir: true, Path: "/etc/protected"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.True(t, v.Allow)
}

func TestCheckDataOpenProtectedDirDeniesWhenShadowed(t *testing.T) {
	ev, _ := newTestEvaluator(t)
	require.NoError(t, ev.Config.WriteEnforce(config.DataCheckBit))
	ev.Mounts = stubMountProbe{info: &mount.Info{VfsOpts: "upperdir=/etc,lowerdir=/overlay/lower"}}

	ev.Hashlists.Volume(1).Insert(hashlist.Entry{Node: hashlist.NodeProtectedDir, Ino: 9})

	f := File{Device: 1, Ino: 9, Dir: true, Path: "/etc/protected"}
	v := ev.CheckDataOpen(context.Background(), f, credential.Credentials{})
	require.False(t, v.Allow)
	require.Equal(t, RAttrib, v.Reason)
}
