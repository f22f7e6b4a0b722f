package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/fileutil"
	"isomine/internal/logging"
	"isomine/internal/services"
)

// DefaultStaleAfter is the age past which a lock is reclaimed even when its
// holder still appears alive.
const DefaultStaleAfter = 2 * time.Hour

// Payload identifies the lock holder.
type Payload struct {
	PID           int    `json:"pid"`
	Host          string `json:"host"`
	User          string `json:"user"`
	RunID         string `json:"run_id"`
	Token         string `json:"token,omitempty"`
	AcquiredAtUTC string `json:"acquired_at_utc"`
}

// Options tunes acquisition.
type Options struct {
	StaleAfter   time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
	Now          func() time.Time
	Alive        func(pid int) bool
}

func (o Options) withDefaults() Options {
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Alive == nil {
		o.Alive = ProcessAlive
	}
	return o
}

// Lock is a held run lock.
type Lock struct {
	path    string
	payload Payload
	logger  *slog.Logger
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Payload returns the holder record written at acquisition.
func (l *Lock) Payload() Payload { return l.payload }

// ProcessAlive reports whether pid names a live process on this host.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Acquire takes the lock at path for runID. With a zero Timeout a live,
// fresh holder fails immediately with ErrLockContention; otherwise Acquire
// polls until the timeout or ctx expires.
func Acquire(ctx context.Context, path, runID string, opts Options, logger *slog.Logger) (*Lock, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrLockContention, "lock", "prepare", path, err)
	}

	deadline := opts.Now().Add(opts.Timeout)
	for {
		lock, err := tryAcquire(ctx, path, runID, opts, logger)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, services.ErrLockContention) || opts.Timeout <= 0 || !opts.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrLockContention, "lock", "wait", path, ctx.Err())
		case <-time.After(opts.PollInterval):
		}
	}
}

func tryAcquire(ctx context.Context, path, runID string, opts Options, logger *slog.Logger) (*Lock, error) {
	guard := flock.New(path + ".guard")
	ok, err := guard.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !ok {
		return nil, services.Wrap(services.ErrLockContention, "lock", "guard", path, err)
	}
	defer func() { _ = guard.Unlock() }()

	host, _ := os.Hostname()
	existing, raw, err := ReadPayload(path)
	switch {
	case err == nil:
		if holderActive(existing, host, opts) {
			return nil, services.Wrap(services.ErrLockContention, "lock", "acquire",
				fmt.Sprintf("active lock at %s: pid=%d host=%s user=%s run_id=%s",
					path, existing.PID, existing.Host, existing.User, existing.RunID), nil)
		}
		logging.WarnWithContext(logger, "stale_lock_replaced payload="+string(raw), "stale_lock_replaced",
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldImpact, "previous holder is dead or past the staleness window"))
	case fileutil.IsNotExist(err):
	default:
		logging.WarnWithContext(logger, "unreadable lock payload replaced", "stale_lock_replaced",
			logging.String(logging.FieldPath, path), logging.Error(err))
	}

	payload := Payload{
		PID:           os.Getpid(),
		Host:          host,
		User:          currentUser(),
		RunID:         runID,
		Token:         uuid.NewString(),
		AcquiredAtUTC: opts.Now().UTC().Format(time.RFC3339),
	}
	data, err := canonical.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return nil, services.Wrap(services.ErrLockContention, "lock", "write", path, err)
	}
	logger.Info(fmt.Sprintf("lock_acquired pid=%d run_id=%s", payload.PID, runID),
		logging.String(logging.FieldEventType, "lock_acquired"),
		logging.String(logging.FieldPath, path))
	return &Lock{path: path, payload: payload, logger: logger}, nil
}

func holderActive(p Payload, host string, opts Options) bool {
	acquired, err := time.Parse(time.RFC3339, p.AcquiredAtUTC)
	if err != nil || opts.Now().Sub(acquired) >= opts.StaleAfter {
		return false
	}
	if p.Host != "" && p.Host != host {
		// A remote pid cannot be probed; trust the payload until it goes stale.
		return true
	}
	return opts.Alive(p.PID)
}

// Release removes the lock when it still belongs to this holder. A payload
// written by another holder is left in place.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	guard := flock.New(l.path + ".guard")
	if err := guard.Lock(); err != nil {
		return services.Wrap(services.ErrLockContention, "lock", "guard", l.path, err)
	}
	defer func() { _ = guard.Unlock() }()

	current, _, err := ReadPayload(l.path)
	if err != nil {
		if fileutil.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !l.owns(current) {
		logging.WarnWithContext(l.logger, "lock held by another run left in place", "lock_release_skipped",
			logging.String("holder_run_id", current.RunID),
			logging.String(logging.FieldPath, l.path))
		return nil
	}
	if err := os.Remove(l.path); err != nil && !fileutil.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	l.logger.Info("lock_released run_id="+l.payload.RunID,
		logging.String(logging.FieldEventType, "lock_released"))
	return nil
}

func (l *Lock) owns(current Payload) bool {
	if current.Token != "" && l.payload.Token != "" {
		return current.Token == l.payload.Token
	}
	return current.RunID == "" || current.RunID == l.payload.RunID
}

// ReadPayload loads the holder record and its raw bytes.
func ReadPayload(path string) (Payload, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, nil, err
	}
	var p Payload
	if err := artifact.ReadJSON(path, &p); err != nil {
		return Payload{}, raw, err
	}
	return p, raw, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
