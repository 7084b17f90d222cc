package bootstrap

import (
	"os"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	setxid "gopkg.in/hlandau/service.v1/daemon/setuid"
)

// reexecEnv, when present in a process's environment, means this process
// was started specifically to drop privileges and exec the real helper
// binary: a freshly re-invoked child calls setxid.Setresuid/Setresgid on
// itself immediately before it execs, rather than trying to drop
// privileges from the parent after the fact.
const (
	reexecEnv    = "AEGIS_BOOTSTRAP_REEXEC"
	reexecUIDEnv = "AEGIS_BOOTSTRAP_UID"
	reexecGIDEnv = "AEGIS_BOOTSTRAP_GID"
)

func init() {
	if os.Getenv(reexecEnv) != "1" {
		return
	}
	// os.Args[0] is this same binary re-invoked; the real helper and its
	// arguments follow.
	if len(os.Args) < 2 {
		os.Exit(64)
	}

	uid, _ := strconv.Atoi(os.Getenv(reexecUIDEnv))
	gid, _ := strconv.Atoi(os.Getenv(reexecGIDEnv))

	if gid != 0 {
		if err := setxid.Setresgid(gid, gid, gid); err != nil {
			logrus.WithError(err).Error("bootstrap reexec: failed to drop gid")
			os.Exit(65)
		}
	}
	if uid != 0 {
		if err := setxid.Setresuid(uid, uid, uid); err != nil {
			logrus.WithError(err).Error("bootstrap reexec: failed to drop uid")
			os.Exit(66)
		}
	}

	helper := os.Args[1]
	args := os.Args[1:]
	env := os.Environ()
	if err := syscall.Exec(helper, args, env); err != nil {
		logrus.WithError(err).Error("bootstrap reexec: exec of helper failed")
		os.Exit(67)
	}
}
