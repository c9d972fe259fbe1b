package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/adalundhe/tideline/core/model"
)

// RefUpdate is one ref to push. A nil NewTarget deletes the remote ref.
// ExpectedCurrentTarget is where the remote is assumed to be, sourced from
// the remote-tracking record rather than a live lookup; nil means the ref is
// expected to not exist on the remote.
type RefUpdate struct {
	QualifiedName         string
	ExpectedCurrentTarget *model.CommitID
	NewTarget             *model.CommitID
}

// RefRejection is one ref the remote refused, with git's reason when it gave
// one.
type RefRejection struct {
	RefName string
	Reason  string
}

// PushStats reports the per-ref outcome of a push. Rejected refs failed the
// lease check; RemoteRejected refs were refused by the remote itself.
type PushStats struct {
	Pushed         []string
	Rejected       []RefRejection
	RemoteRejected []RefRejection
}

func (s *PushStats) AllOK() bool {
	return len(s.Rejected) == 0 && len(s.RemoteRejected) == 0
}

// BookmarkPushUpdate moves a bookmark on the remote. OldTarget is the
// remote-tracking record's value, NewTarget nil deletes the branch.
type BookmarkPushUpdate struct {
	Name      string
	OldTarget *model.CommitID
	NewTarget *model.CommitID
}

// Pusher pushes refs and reconciles the view with what the remote accepted.
type Pusher struct {
	repo   *gogit.Repository
	view   *model.View
	runner Runner
	logger *slog.Logger
}

func NewPusher(repo *gogit.Repository, view *model.View, runner Runner) *Pusher {
	return &Pusher{
		repo:   repo,
		view:   view,
		runner: runner,
		logger: slog.Default().With("component", "git-push"),
	}
}

// PushBookmarks pushes branch updates and, when every ref lands, records the
// new positions as tracked remote bookmarks. A partial push leaves the view
// untouched so the next push retries from the same expectations.
func (p *Pusher) PushBookmarks(ctx context.Context, remote string, updates []BookmarkPushUpdate, callbacks *Callbacks) (PushStats, error) {
	refUpdates := make([]RefUpdate, 0, len(updates))
	for _, u := range updates {
		refUpdates = append(refUpdates, RefUpdate{
			QualifiedName:         "refs/heads/" + u.Name,
			ExpectedCurrentTarget: u.OldTarget,
			NewTarget:             u.NewTarget,
		})
	}

	stats, err := p.PushRefs(ctx, remote, refUpdates, callbacks)
	if err != nil {
		return PushStats{}, err
	}
	if !stats.AllOK() {
		return stats, nil
	}

	for _, u := range updates {
		refName := "refs/remotes/" + remote + "/" + u.Name
		sym := model.RemoteSymbol{Name: u.Name, Remote: remote}
		if u.NewTarget == nil {
			p.view.SetGitRef(refName, model.AbsentRefTarget())
			p.view.SetRemoteBookmark(sym, model.AbsentRemoteRef())
			continue
		}
		target := model.NormalRefTarget(*u.NewTarget)
		p.view.SetGitRef(refName, target)
		p.view.SetRemoteBookmark(sym, model.RemoteRef{
			Target: target,
			State:  model.RemoteRefStateTracked,
		})
	}
	return stats, nil
}

// PushRefs pushes the given refs without touching the view. Every update is
// guarded with --force-with-lease against its expected position, so a ref
// that moved on the remote since the last fetch is rejected instead of
// clobbered.
func (p *Pusher) PushRefs(ctx context.Context, remote string, updates []RefUpdate, callbacks *Callbacks) (PushStats, error) {
	if err := model.ValidateRemoteName(remote); err != nil {
		return PushStats{}, err
	}
	if err := remoteExists(p.repo, remote); err != nil {
		return PushStats{}, err
	}

	// Hooks are not supported, so git must not run them.
	args := []string{"push", "--porcelain", "--no-verify"}
	if callbacks.wantsProgress() {
		args = append(args, "--progress")
	}
	for _, u := range updates {
		expected := ""
		if u.ExpectedCurrentTarget != nil {
			expected = u.ExpectedCurrentTarget.Hex()
		}
		args = append(args, "--force-with-lease="+u.QualifiedName+":"+expected)
	}
	args = append(args, "--", remote)
	// The refspecs must not carry the force prefix: a leading + overrides
	// the lease.
	for _, u := range updates {
		if u.NewTarget != nil {
			args = append(args, u.NewTarget.Hex()+":"+u.QualifiedName)
		} else {
			args = append(args, ":"+u.QualifiedName)
		}
	}

	out, err := p.runner.Run(ctx, callbacks, args...)
	if err != nil {
		return PushStats{}, err
	}
	stats, err := parsePushOutput(out)
	if err != nil {
		return PushStats{}, err
	}

	slices.Sort(stats.Pushed)
	sortRejections(stats.Rejected)
	sortRejections(stats.RemoteRejected)
	p.logger.Debug("pushed refs",
		"pushed", len(stats.Pushed),
		"rejected", len(stats.Rejected),
		"remote_rejected", len(stats.RemoteRejected))
	return stats, nil
}

func sortRejections(rejections []RefRejection) {
	slices.SortFunc(rejections, func(a, b RefRejection) int {
		return strings.Compare(a.RefName, b.RefName)
	})
}

func parsePushOutput(out *Output) (PushStats, error) {
	if out.ExitCode == 0 {
		return parseRefPushes(out.Stdout)
	}
	if option, ok := parseUnknownOption(out.Stderr); ok {
		return PushStats{}, fmt.Errorf("%w: --%s", ErrUnsupportedGitOption, option)
	}
	if remote, ok := parseNoSuchRemote(out.Stderr); ok {
		return PushStats{}, fmt.Errorf("%w: %q", ErrNoSuchRemote, remote)
	}
	// Rejected refs fail the whole push, but the porcelain output still
	// reports the per-ref outcomes.
	for _, line := range strings.Split(string(out.Stderr), "\n") {
		if strings.HasPrefix(line, "error: failed to push some refs to ") {
			return parseRefPushes(out.Stdout)
		}
	}
	return PushStats{}, externalGitError(out.Stderr)
}

// parseRefPushes reads git push --porcelain output. Each line after the
// "To <url>" header is `<flag>\t<from>:<to>\t<summary>`, where flag ' ', +,
// -, * and = are successes and ! is a rejection. The summary of a rejection
// carries the reason in parentheses.
func parseRefPushes(stdout []byte) (PushStats, error) {
	if !bytes.HasPrefix(stdout, []byte("To ")) {
		return PushStats{}, fmt.Errorf("%w: unfamiliar push output:\n%s", ErrExternalGit, stdout)
	}

	var stats PushStats
	lines := strings.Split(strings.TrimRight(string(stdout), "\n"), "\n")
	for idx, line := range lines[1:] {
		if line == "Done" {
			break
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			return PushStats{}, fmt.Errorf("%w: push output line %d has unknown format: %s", ErrExternalGit, idx, line)
		}
		flag, refspecText, summary := parts[0], parts[1], parts[2]
		_, refName, ok := strings.Cut(refspecText, ":")
		if !ok {
			return PushStats{}, fmt.Errorf("%w: push output line %d has refspec without named ref: %s", ErrExternalGit, idx, refspecText)
		}

		switch flag {
		case " ", "+", "-", "*", "=":
			stats.Pushed = append(stats.Pushed, refName)
		case "!":
			if rest, ok := strings.CutPrefix(summary, "[remote rejected]"); ok {
				stats.RemoteRejected = append(stats.RemoteRejected, RefRejection{
					RefName: refName,
					Reason:  parenReason(rest),
				})
			} else {
				_, rest, _ := strings.Cut(summary, "]")
				stats.Rejected = append(stats.Rejected, RefRejection{
					RefName: refName,
					Reason:  parenReason(rest),
				})
			}
		default:
			return PushStats{}, fmt.Errorf("%w: push output line %d starts with unknown flag %q: %s", ErrExternalGit, idx, flag, line)
		}
	}
	return stats, nil
}

func parenReason(text string) string {
	rest, ok := strings.CutPrefix(text, " (")
	if !ok {
		return ""
	}
	reason, ok := strings.CutSuffix(rest, ")")
	if !ok {
		return ""
	}
	return reason
}
