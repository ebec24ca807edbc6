// Package health wraps a remote filesystem with connection monitoring.
// Every call through the wrapper updates a connectivity flag: a success
// marks the backend connected, a connection-lost error marks it
// disconnected and is re-raised unchanged. While disconnected, a single
// background poller repeats a cheap canary call (stat of the root) until
// the backend answers again, waking everyone blocked in
// WaitForConnection.
//
// The poller is the only place in this layer that retries anything, and
// it only ever retries the connection-lost kind.
package health

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/javi11/remotefs"
	"github.com/javi11/remotefs/fserrors"
)

const defaultPollInterval = 5 * time.Second

// Options configures a monitor.
type Options struct {
	// PollInterval is the pause between canary attempts while
	// disconnected. Zero selects the default of 5s.
	PollInterval time.Duration
}

// FS wraps a remote filesystem and tracks whether its backend is
// reachable. It exposes the identical operation surface, so it composes
// with any other wrapper.
type FS struct {
	inner        remotefs.FS
	pollInterval time.Duration

	mu          sync.Mutex
	connected   bool
	polling     bool
	closed      bool
	reconnected chan struct{} // non-nil while disconnected; closed to wake waiters

	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	log *slog.Logger
}

var _ remotefs.FS = (*FS)(nil)

// New creates a connection monitor around inner. The backend is
// presumed connected until a call proves otherwise.
func New(inner remotefs.FS, opts Options) *FS {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FS{
		inner:        inner,
		pollInterval: interval,
		connected:    true,
		ctx:          ctx,
		cancel:       cancel,
		log:          slog.Default().With("component", "health"),
	}
}

// Connected reports the last observed connectivity. It is eventually
// consistent: updated optimistically on every successful call and
// pessimistically on every connection-lost error.
func (f *FS) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FS) markConnectedLocked() {
	f.connected = true
	if f.reconnected != nil {
		close(f.reconnected)
		f.reconnected = nil
	}
}

func (f *FS) markDisconnectedLocked() {
	f.connected = false
	if f.reconnected == nil {
		f.reconnected = make(chan struct{})
	}
}

// observe reclassifies connectivity from a wrapped call's outcome. Any
// error that is not connection-lost leaves the flag untouched: the
// backend answered, just not with what the caller wanted.
func (f *FS) observe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case err == nil:
		f.markConnectedLocked()
	case fserrors.IsConnectionLost(err):
		if f.connected {
			f.log.Warn("Backend connection lost", "error", err)
		}
		f.markDisconnectedLocked()
	}
}

// WaitForConnection blocks until the backend is reachable again or the
// timeout elapses; a timeout is not an error. A non-positive timeout
// waits without bound. With forceWait set, the backend is considered
// disconnected first, forcing a fresh canary round-trip even if the
// flag currently says connected.
func (f *FS) WaitForConnection(timeout time.Duration, forceWait bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if forceWait {
		f.markDisconnectedLocked()
	}
	if f.connected {
		f.mu.Unlock()
		return
	}

	f.startPollLocked()
	ch := f.reconnected
	f.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return
	}

	select {
	case <-ch:
	case <-time.After(timeout):
	}
}

// startPollLocked spawns the background poller if none is running.
func (f *FS) startPollLocked() {
	if f.polling || f.closed {
		return
	}
	f.polling = true

	f.wg.Add(1)
	go f.poll()
}

// poll repeats the canary until it either succeeds, fails with an error
// that is not connection-lost (the backend is reachable but broken some
// other way), or the monitor is closing. The inter-attempt sleep is
// interruptible so Close never waits out a full interval.
func (f *FS) poll() {
	defer f.wg.Done()

	f.log.Info("Backend disconnected, polling for reconnection", "interval", f.pollInterval)

	err := retry.Do(
		func() error {
			_, err := f.inner.Stat("/")
			return err
		},
		retry.Attempts(0),
		retry.Delay(f.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(fserrors.IsConnectionLost),
		retry.OnRetry(func(n uint, err error) {
			f.log.Debug("Canary attempt failed", "attempt", n+1, "error", err)
		}),
		retry.Context(f.ctx),
	)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.polling = false
	if f.closed || f.ctx.Err() != nil {
		return
	}

	if err != nil {
		f.log.Warn("Canary returned a non-connection error, treating backend as reachable", "error", err)
	} else {
		f.log.Info("Backend connection restored")
	}
	f.markConnectedLocked()
}

// Close shuts the monitor down without deadlocking against a live
// poller: waiters are released, the poll sleep is interrupted, and only
// then is the wrapped filesystem closed. A connection-lost error from
// that final close is swallowed, the remote end is presumed already
// gone. Close is idempotent.
func (f *FS) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.markConnectedLocked()
	f.cancel()
	f.mu.Unlock()

	f.wg.Wait()

	if err := f.inner.Close(); err != nil && !fserrors.IsConnectionLost(err) {
		return err
	}
	return nil
}

func (f *FS) Open(name string, flag int) (remotefs.File, error) {
	file, err := f.inner.Open(name, flag)
	f.observe(err)
	return file, err
}

func (f *FS) Stat(name string) (os.FileInfo, error) {
	info, err := f.inner.Stat(name)
	f.observe(err)
	return info, err
}

func (f *FS) Exists(name string) (bool, error) {
	ok, err := f.inner.Exists(name)
	f.observe(err)
	return ok, err
}

func (f *FS) IsDir(name string) (bool, error) {
	ok, err := f.inner.IsDir(name)
	f.observe(err)
	return ok, err
}

func (f *FS) IsFile(name string) (bool, error) {
	ok, err := f.inner.IsFile(name)
	f.observe(err)
	return ok, err
}

func (f *FS) ReadDirNames(name string) ([]string, error) {
	names, err := f.inner.ReadDirNames(name)
	f.observe(err)
	return names, err
}

func (f *FS) ReadDir(name string) ([]os.FileInfo, error) {
	infos, err := f.inner.ReadDir(name)
	f.observe(err)
	return infos, err
}

func (f *FS) Mkdir(name string) error {
	err := f.inner.Mkdir(name)
	f.observe(err)
	return err
}

func (f *FS) Create(name string) error {
	err := f.inner.Create(name)
	f.observe(err)
	return err
}

func (f *FS) Remove(name string) error {
	err := f.inner.Remove(name)
	f.observe(err)
	return err
}

func (f *FS) RemoveDir(name string) error {
	err := f.inner.RemoveDir(name)
	f.observe(err)
	return err
}

func (f *FS) Rename(oldname, newname string) error {
	err := f.inner.Rename(oldname, newname)
	f.observe(err)
	return err
}

func (f *FS) Move(src, dst string) error {
	err := f.inner.Move(src, dst)
	f.observe(err)
	return err
}

func (f *FS) MoveDir(src, dst string) error {
	err := f.inner.MoveDir(src, dst)
	f.observe(err)
	return err
}

func (f *FS) Copy(src, dst string) error {
	err := f.inner.Copy(src, dst)
	f.observe(err)
	return err
}

func (f *FS) CopyDir(src, dst string) error {
	err := f.inner.CopyDir(src, dst)
	f.observe(err)
	return err
}

func (f *FS) SetContents(name string, data io.Reader) (int64, error) {
	n, err := f.inner.SetContents(name, data)
	f.observe(err)
	return n, err
}

func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	err := f.inner.Chtimes(name, atime, mtime)
	f.observe(err)
	return err
}
