package transport

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/adalundhe/tideline/core/model"
	"github.com/adalundhe/tideline/core/refspec"
	tidesync "github.com/adalundhe/tideline/core/sync"
)

// Fetcher runs git fetches and remembers what was asked for, so a later
// import can be limited to the refs the fetches could have touched.
type Fetcher struct {
	repo    *gogit.Repository
	runner  Runner
	fetched []fetchedBranches
	logger  *slog.Logger
}

type fetchedBranches struct {
	remote   string
	branches refspec.Expression
}

func NewFetcher(repo *gogit.Repository, runner Runner) *Fetcher {
	return &Fetcher{
		repo:   repo,
		runner: runner,
		logger: slog.Default().With("component", "git-fetch"),
	}
}

// Fetch updates the remote-tracking refs for the branches the expression
// selects. Git rejects a fetch wholesale when any exact refspec is missing
// on the remote, and reports only one missing ref at a time, so the fetch
// retries with the failing refspec excluded until it goes through. Excluded
// branches get their stale remote-tracking refs pruned explicitly; --prune
// does not cover refspecs that errored.
func (f *Fetcher) Fetch(ctx context.Context, remote string, branches refspec.Expression, depth int, callbacks *Callbacks) error {
	if err := model.ValidateRemoteName(remote); err != nil {
		return err
	}
	if err := remoteExists(f.repo, remote); err != nil {
		return err
	}
	expanded, err := refspec.ExpandFetch(remote, branches)
	if err != nil {
		return err
	}

	positive := slices.Clone(expanded.Positive)
	var prune []string
	for len(positive) > 0 {
		out, err := f.runner.Run(ctx, callbacks, f.fetchArgs(remote, positive, expanded.Negative, depth, callbacks)...)
		if err != nil {
			return err
		}
		failing, err := parseFetchOutput(out)
		if err != nil {
			return err
		}
		if failing == "" {
			break
		}
		f.logger.Debug("remote ref not found, retrying without it", "ref", failing)
		positive = slices.DeleteFunc(positive, func(rs refspec.RefSpec) bool {
			return rs.Source == failing
		})
		if name, ok := strings.CutPrefix(failing, "refs/heads/"); ok {
			prune = append(prune, remote+"/"+name)
		}
	}
	if err := f.pruneBranches(ctx, prune); err != nil {
		return err
	}

	f.fetched = append(f.fetched, fetchedBranches{remote: remote, branches: branches})
	return nil
}

func (f *Fetcher) fetchArgs(remote string, positive []refspec.RefSpec, negative []refspec.NegativeRefSpec, depth int, callbacks *Callbacks) []string {
	// --no-write-fetch-head keeps the fetch invisible to other tooling.
	args := []string{"fetch", "--prune", "--no-write-fetch-head"}
	if callbacks.wantsProgress() {
		args = append(args, "--progress")
	}
	if depth > 0 {
		args = append(args, fmt.Sprintf("--depth=%d", depth))
	}
	args = append(args, "--", remote)
	for _, rs := range positive {
		args = append(args, rs.String())
	}
	for _, ns := range negative {
		args = append(args, ns.String())
	}
	return args
}

func (f *Fetcher) pruneBranches(ctx context.Context, branches []string) error {
	if len(branches) == 0 {
		return nil
	}
	f.logger.Debug("pruning remote-tracking branches", "branches", branches)
	args := append([]string{"branch", "--remotes", "--delete", "--"}, branches...)
	out, err := f.runner.Run(ctx, nil, args...)
	if err != nil {
		return err
	}
	return parseBranchPruneOutput(out)
}

// GetDefaultBranch asks the remote which branch its HEAD points at. An empty
// return with nil error means the remote has no default branch.
func (f *Fetcher) GetDefaultBranch(ctx context.Context, remote string) (string, error) {
	if err := model.ValidateRemoteName(remote); err != nil {
		return "", err
	}
	if err := remoteExists(f.repo, remote); err != nil {
		return "", err
	}
	out, err := f.runner.Run(ctx, nil, "remote", "show", "--", remote)
	if err != nil {
		return "", err
	}
	if err := parseRemoteShowOutput(out); err != nil {
		return "", err
	}
	return parseDefaultBranch(out.Stdout), nil
}

// Import applies everything fetched so far to the view. Bookmarks outside
// the fetched remote and branch selections are left alone; tags are always
// imported since the fetch already merged them. The fetch record is cleared,
// so calling again without fetching is a no-op.
func (f *Fetcher) Import(ctx context.Context, importer *tidesync.Importer) (tidesync.ImportStats, error) {
	filter := func(kind model.RefKind, sym model.RemoteSymbol) bool {
		if kind == model.RefKindTag {
			return true
		}
		for _, fetched := range f.fetched {
			if fetched.remote == sym.Remote && fetched.branches.Matches(sym.Name) {
				return true
			}
		}
		return false
	}
	stats, err := importer.ImportRefs(ctx, filter)
	if err != nil {
		return tidesync.ImportStats{}, err
	}
	f.fetched = nil
	return stats, nil
}

func remoteExists(repo *gogit.Repository, remote string) error {
	cfg, err := repo.Storer.Config()
	if err != nil {
		return fmt.Errorf("read git config: %w", err)
	}
	if _, ok := cfg.Remotes[remote]; !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchRemote, remote)
	}
	return nil
}
