package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/adalundhe/tideline/core/model"
)

// GC recomputes the no-GC pin set from the given reachability heads, sweeps
// stale pins, and runs the native garbage collector with a matching prune
// cutoff.
//
// A pin outside the new set is still spared when its loose ref file was
// modified after keepNewer: a concurrently running import may have created
// it for a commit the index does not know yet. The mtime window is a
// documented race-avoidance heuristic, not a lock.
func (b *Backend) GC(ctx context.Context, keepNewer time.Time, indexHeads []model.CommitID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.sweepPinsLocked(keepNewer, indexHeads); err != nil {
		return err
	}
	if b.gitDir == "" {
		return nil
	}
	return b.runNativeGC(ctx, keepNewer)
}

// SweepPins runs only the pin recomputation, without invoking the native
// collector.
func (b *Backend) SweepPins(keepNewer time.Time, indexHeads []model.CommitID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepPinsLocked(keepNewer, indexHeads)
}

func (b *Backend) sweepPinsLocked(keepNewer time.Time, indexHeads []model.CommitID) error {
	keep := make(map[string]struct{}, len(indexHeads))
	for _, id := range indexHeads {
		if id.IsRoot() {
			continue
		}
		if err := b.createNoGCPin(id); err != nil {
			return err
		}
		keep[id.Hex()] = struct{}{}
	}

	iter, err := b.repo.Storer.IterReferences()
	if err != nil {
		return fmt.Errorf("iterate refs: %w", err)
	}
	var stale []plumbing.ReferenceName
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := string(ref.Name())
		hex, ok := strings.CutPrefix(name, NoGCRefPrefix)
		if !ok {
			return nil
		}
		if _, wanted := keep[hex]; wanted {
			return nil
		}
		if b.pinRecentlyTouched(name, keepNewer) {
			return nil
		}
		stale = append(stale, ref.Name())
		return nil
	})
	if err != nil {
		return err
	}

	for _, name := range stale {
		if err := b.repo.Storer.RemoveReference(name); err != nil {
			return fmt.Errorf("remove gc pin %s: %w", name, err)
		}
	}
	if len(stale) > 0 {
		b.logger.Debug("swept gc pins", "removed", len(stale), "kept", len(keep))
	}
	return nil
}

// pinRecentlyTouched checks the loose ref file's mtime against the grace
// cutoff. Without an on-disk Git directory there is nothing to stat and no
// concurrent process to race with.
func (b *Backend) pinRecentlyTouched(refName string, keepNewer time.Time) bool {
	if b.gitDir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(b.gitDir, filepath.FromSlash(refName)))
	if err != nil {
		return false
	}
	return info.ModTime().After(keepNewer)
}

func (b *Backend) runNativeGC(ctx context.Context, keepNewer time.Time) error {
	prune := fmt.Sprintf("--prune=@%d +0000", keepNewer.Unix())
	cmd := exec.CommandContext(ctx, b.executable, "--git-dir", b.gitDir, "gc", prune)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git gc: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	b.logger.Debug("ran native gc", "prune_cutoff", keepNewer)
	return nil
}
