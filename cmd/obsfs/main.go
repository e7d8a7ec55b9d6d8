package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openSUSE/obsfs/internal/obsfs"
)

var (
	flagUser       string
	flagPass       string
	flagHost       string
	flagOscrc      string
	flagForeground bool
	flagAllowOther bool
	flagDebug      bool
	flagVerbose    bool
	flagCacheTTL   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:     "obsfs <mountpoint>",
		Short:   "Mount the openSUSE Build Service API as a filesystem",
		Args:    cobra.ExactArgs(1),
		Version: "1.0.0",
		RunE:    run,
	}

	root.Flags().StringVar(&flagUser, "user", "", "API user name (overrides .oscrc)")
	root.Flags().StringVar(&flagPass, "pass", "", "API password (overrides .oscrc)")
	root.Flags().StringVar(&flagHost, "host", "api.opensuse.org", "API server hostname")
	root.Flags().StringVar(&flagOscrc, "oscrc", "", "path to credentials file (overrides $OSCRC_CONFIG)")
	root.Flags().BoolVar(&flagForeground, "foreground", false, "accepted but has no effect: obsfs always runs in the foreground")
	root.Flags().BoolVar(&flagAllowOther, "allow-other", false, "allow other users to access the mount")
	root.Flags().BoolVar(&flagDebug, "debug", false, "enable go-fuse debug logging")
	root.Flags().BoolVar(&flagVerbose, "verbose", false, "enable verbose obsfs logging")
	root.Flags().DurationVar(&flagCacheTTL, "cache-ttl", 0, "dir TTL recorded in the activity log header; the caches keep their built-in TTLs")
	root.Flags().BoolP("version", "V", false, "print the version and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]
	sessionID := uuid.New().String()

	log := newLogger(sessionID)

	server, cleanup, err := mount(mountpoint, sessionID, log)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Infof("mounted %s on %s", flagHost, mountpoint)
	log.Info("press ctrl+c to unmount")

	server.Wait()
	return nil
}

func newLogger(sessionID string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flagVerbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l.WithField("session", sessionID)
}

// mount resolves credentials, sets up the scratch cache directory, wires
// a Core to a live Client, and hands the whole thing to go-fuse. The
// returned cleanup func unmounts and tears down the scratch directory;
// callers must run it exactly once, however run() exits.
func mount(mountpoint, sessionID string, log *logrus.Entry) (*fuse.Server, func(), error) {
	account, err := resolveAccount()
	if err != nil {
		return nil, nil, err
	}

	scratch, err := os.MkdirTemp("", "obsfs-")
	if err != nil {
		return nil, nil, fmt.Errorf("obsfs: creating scratch directory: %w", err)
	}
	// The original keeps its cookie jar and write-through file mirror
	// relative to a chdir'd-into scratch directory; Core instead always
	// joins against an absolute cacheDir, so a concurrent goroutine never
	// depends on the process-global working directory. The chdir still
	// happens, for any future code (or external tool invoked from within
	// the mount) that assumes cwd is the scratch dir.
	if err := os.Chdir(scratch); err != nil {
		os.RemoveAll(scratch)
		return nil, nil, fmt.Errorf("obsfs: entering scratch directory: %w", err)
	}

	client, err := obsfs.NewClient(flagHost, account.User, account.Pass, log)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, nil, err
	}
	cookiePath := filepath.Join(scratch, "cookies")
	if err := client.LoadCookies(cookiePath); err != nil {
		log.Debugf("loading cookies: %v", err)
	}

	core := obsfs.NewCore(scratch, client, account.User, log)

	activityLogPath := filepath.Join(scratch, "activity.log")
	if activity, err := obsfs.NewActivityLog(activityLogPath); err != nil {
		log.Warnf("activity log disabled: %v", err)
	} else {
		core.SetActivityLog(activity)
		attrTTL, dirTTL := obsfs.AttrTTL, obsfs.DirTTL
		if flagCacheTTL > 0 {
			dirTTL = flagCacheTTL
		}
		activity.WriteHeader(flagHost, mountpoint, attrTTL, dirTTL)
		go reportCacheUsage(scratch, log)
	}

	go persistCookies(client, cookiePath, log)

	root := obsfs.NewRootNode(core)

	zero := time.Duration(0)
	opts := &fs.Options{
		AttrTimeout:     &zero,
		EntryTimeout:    &zero,
		NegativeTimeout: &zero,
		MountOptions: fuse.MountOptions{
			AllowOther: flagAllowOther,
			FsName:     "obsfs",
			Debug:      flagDebug,
		},
	}

	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, nil, fmt.Errorf("obsfs: mount failed: %w", err)
	}

	cleanup := func() {
		server.Unmount()
		if err := client.SaveCookies(cookiePath); err != nil {
			log.Debugf("saving cookies: %v", err)
		}
		os.RemoveAll(scratch)
	}
	return server, cleanup, nil
}

func resolveAccount() (*obsfs.Account, error) {
	if flagUser != "" && flagPass != "" {
		return &obsfs.Account{User: flagUser, Pass: flagPass}, nil
	}

	oscrcPath := flagOscrc
	if oscrcPath == "" {
		oscrcPath = os.Getenv("OSCRC_CONFIG")
	}
	if oscrcPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("obsfs: no --oscrc given and $HOME unset: %w", err)
		}
		oscrcPath = filepath.Join(home, ".oscrc")
	}

	account, err := obsfs.ReadAccount(oscrcPath, flagHost)
	if err != nil {
		return nil, fmt.Errorf("obsfs: resolving credentials: %w", err)
	}
	if flagUser != "" {
		account.User = flagUser
	}
	if flagPass != "" {
		account.Pass = flagPass
	}
	return account, nil
}

// persistCookies periodically writes the session's cookie jar to disk, so
// a mount surviving a crash (rather than a clean unmount, which saves once
// in cleanup) doesn't lose its authentication cookie on the next start.
func persistCookies(client *obsfs.Client, cookiePath string, log *logrus.Entry) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if err := client.SaveCookies(cookiePath); err != nil {
			log.Debugf("saving cookies: %v", err)
		}
	}
}

// reportCacheUsage periodically logs the scratch directory's disk
// footprint, the same "is this thing actually working" signal the
// activity log's hit/miss lines don't give you at a glance.
func reportCacheUsage(scratch string, log *logrus.Entry) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		var total int64
		filepath.Walk(scratch, func(_ string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				total += info.Size()
			}
			return nil
		})
		log.Debugf("local cache footprint: %s", humanize.Bytes(uint64(total)))
	}
}
