package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Locker serializes read-modify-write cycles on the metadata table across
// processes.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release() error
}

// AdvisoryLock is a file-based Locker using flock, so concurrent writers in
// separate processes merge their table mutations instead of clobbering each
// other.
type AdvisoryLock struct {
	path string
	file *os.File
}

func NewAdvisoryLock(lockDir, name string) (*AdvisoryLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, err
	}
	return &AdvisoryLock{
		path: filepath.Join(lockDir, name+".lock"),
	}, nil
}

func (l *AdvisoryLock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("lock acquisition timeout: %s", l.path)
		}

		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return err
		}

		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = file
			return nil
		}

		file.Close()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *AdvisoryLock) Release() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return err
	}
	return closeErr
}

// MutexLock is an in-process Locker for table stores backed by an in-memory
// filesystem.
type MutexLock struct {
	mu sync.Mutex
}

func (l *MutexLock) Acquire(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		go func() {
			<-done
			l.mu.Unlock()
		}()
		return ctx.Err()
	case <-time.After(timeout):
		go func() {
			<-done
			l.mu.Unlock()
		}()
		return fmt.Errorf("lock acquisition timeout")
	}
}

func (l *MutexLock) Release() error {
	l.mu.Unlock()
	return nil
}
