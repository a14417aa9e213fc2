package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/cuemby/bbque/pkg/log"
)

// daemonize prepares the calling process to run as a long-lived
// service: it takes an exclusive lock on lockfile (refusing a second
// instance of name), writes the current PID to pidfile, optionally
// drops privileges to username, and chdirs into rundir so the startup
// working directory can't pin a mount point.
//
// Unlike the routine this is grounded on, it never forks: Go's runtime
// spawns goroutines and a GC across OS threads that a fork cannot carry
// cleanly into the child, so backgrounding is left to whatever started
// bbqued in the foreground (systemd, a container runtime). The
// returned cleanup func releases the lock and removes the pidfile; the
// caller runs it on shutdown.
func daemonize(name, username, lockfile, pidfile, rundir string) (func(), error) {
	logger := log.WithComponent("daemonize")

	var lock *flock.Flock
	if lockfile != "" {
		lock = flock.New(lockfile)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("daemonize: lock %s: %w", lockfile, err)
		}
		if !ok {
			return nil, fmt.Errorf("daemonize: %s already held - is another %s already running?", lockfile, name)
		}
		logger.Info().Str("lockfile", lockfile).Msg("acquired daemon lock")
	}

	if pidfile != "" {
		if err := os.WriteFile(pidfile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			releaseLock(lock)
			return nil, fmt.Errorf("daemonize: write pidfile %s: %w", pidfile, err)
		}
		logger.Info().Str("pidfile", pidfile).Int("pid", os.Getpid()).Msg("wrote pidfile")
	}

	if username != "" {
		if err := switchUser(username, pidfile); err != nil {
			releaseLock(lock)
			return nil, fmt.Errorf("daemonize: %w", err)
		}
		logger.Info().Str("user", username).Msg("dropped privileges")
	}

	if rundir != "" {
		if err := os.Chdir(rundir); err != nil {
			releaseLock(lock)
			return nil, fmt.Errorf("daemonize: chdir %s: %w", rundir, err)
		}
	}

	return func() {
		if pidfile != "" {
			_ = os.Remove(pidfile)
		}
		releaseLock(lock)
	}, nil
}

func releaseLock(lock *flock.Flock) {
	if lock != nil {
		_ = lock.Unlock()
	}
}

// switchUser drops the process's real/effective uid and gid to
// username's, mirroring switch_user(): already running as that user is
// a no-op, switching to any other user requires root.
func switchUser(username, pidfile string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lookup user %q: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	if os.Getuid() == uid {
		return nil
	}
	if os.Getuid() != 0 {
		return fmt.Errorf("must run as root to switch to user %q", username)
	}

	if pidfile != "" {
		if err := os.Chown(pidfile, uid, gid); err != nil {
			return fmt.Errorf("chown pidfile to %q: %w", username, err)
		}
	}

	if groups, err := u.GroupIds(); err == nil {
		gids := make([]int, 0, len(groups))
		for _, g := range groups {
			if n, err := strconv.Atoi(g); err == nil {
				gids = append(gids, n)
			}
		}
		_ = unix.Setgroups(gids)
	}

	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}

	os.Setenv("USER", u.Username)
	os.Setenv("LOGNAME", u.Username)
	os.Setenv("HOME", u.HomeDir)
	return nil
}
