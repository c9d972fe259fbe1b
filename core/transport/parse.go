package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoSuchRemote = errors.New("no such git remote")

	// ErrUnsupportedGitOption usually means the git executable predates the
	// options this layer depends on.
	ErrUnsupportedGitOption = errors.New("git does not recognize required option")

	ErrExternalGit = errors.New("git process failed")
)

func firstStderrLine(stderr []byte) string {
	line, _, _ := strings.Cut(string(stderr), "\n")
	return strings.TrimSuffix(line, "\r")
}

func externalGitError(stderr []byte) error {
	return fmt.Errorf("%w:\n%s", ErrExternalGit, stderr)
}

// parseNoSuchRemote recognizes the two shapes git prints when a remote does
// not resolve:
//
//	fatal: '<remote>' does not appear to be a git repository
//	fatal: unable to access '<remote>': Could not resolve host: <host>
func parseNoSuchRemote(stderr []byte) (string, bool) {
	line := firstStderrLine(stderr)
	rest, ok := strings.CutPrefix(line, "fatal: '")
	if !ok {
		rest, ok = strings.CutPrefix(line, "fatal: unable to access '")
	}
	if !ok {
		return "", false
	}
	if remote, ok := strings.CutSuffix(rest, "' does not appear to be a git repository"); ok {
		return remote, true
	}
	if remote, _, ok := strings.Cut(rest, "': Could not resolve host:"); ok {
		return remote, true
	}
	return "", false
}

// parseNoRemoteRef recognizes the error for a refspec absent on the remote:
//
//	fatal: couldn't find remote ref refs/heads/<name>
//
// Git reports these one at a time even when several refspecs are missing.
func parseNoRemoteRef(stderr []byte) (string, bool) {
	return strings.CutPrefix(firstStderrLine(stderr), "fatal: couldn't find remote ref ")
}

// parseNoRemoteTrackingBranch recognizes:
//
//	error: remote-tracking branch '<branch>' not found
func parseNoRemoteTrackingBranch(stderr []byte) (string, bool) {
	rest, ok := strings.CutPrefix(firstStderrLine(stderr), "error: remote-tracking branch '")
	if !ok {
		return "", false
	}
	if branch, ok := strings.CutSuffix(rest, "' not found."); ok {
		return branch, true
	}
	return strings.CutSuffix(rest, "' not found")
}

// parseUnknownOption recognizes the complaints of a git too old for one of
// the options passed:
//
//	unknown option: --<option>
//	error: unknown option `<option>'
func parseUnknownOption(stderr []byte) (string, bool) {
	line := firstStderrLine(stderr)
	if option, ok := strings.CutPrefix(line, "unknown option: --"); ok {
		return option, true
	}
	if rest, ok := strings.CutPrefix(line, "error: unknown option `"); ok {
		return strings.CutSuffix(rest, "'")
	}
	return "", false
}

// parseFetchOutput classifies a fetch result. A non-empty return names the
// fully qualified remote ref the remote did not have.
func parseFetchOutput(out *Output) (string, error) {
	if out.ExitCode == 0 {
		return "", nil
	}
	if option, ok := parseUnknownOption(out.Stderr); ok {
		return "", fmt.Errorf("%w: --%s", ErrUnsupportedGitOption, option)
	}
	if remote, ok := parseNoSuchRemote(out.Stderr); ok {
		return "", fmt.Errorf("%w: %q", ErrNoSuchRemote, remote)
	}
	if ref, ok := parseNoRemoteRef(out.Stderr); ok {
		return ref, nil
	}
	if _, ok := parseNoRemoteTrackingBranch(out.Stderr); ok {
		return "", nil
	}
	return "", externalGitError(out.Stderr)
}

// parseBranchPruneOutput tolerates already-missing remote-tracking branches;
// the ref diff will notice the deletion either way.
func parseBranchPruneOutput(out *Output) error {
	if out.ExitCode == 0 {
		return nil
	}
	if option, ok := parseUnknownOption(out.Stderr); ok {
		return fmt.Errorf("%w: --%s", ErrUnsupportedGitOption, option)
	}
	if _, ok := parseNoRemoteTrackingBranch(out.Stderr); ok {
		return nil
	}
	return externalGitError(out.Stderr)
}

func parseRemoteShowOutput(out *Output) error {
	if out.ExitCode == 0 {
		return nil
	}
	if option, ok := parseUnknownOption(out.Stderr); ok {
		return fmt.Errorf("%w: --%s", ErrUnsupportedGitOption, option)
	}
	if remote, ok := parseNoSuchRemote(out.Stderr); ok {
		return fmt.Errorf("%w: %q", ErrNoSuchRemote, remote)
	}
	return externalGitError(out.Stderr)
}

// parseDefaultBranch finds the "HEAD branch: <name>" line in `git remote
// show` output. An empty return means the remote has no default branch.
func parseDefaultBranch(stdout []byte) string {
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "HEAD branch:") {
			continue
		}
		fields := strings.Fields(line)
		branch := fields[len(fields)-1]
		if branch == "(unknown)" || branch == "branch:" {
			return ""
		}
		return branch
	}
	return ""
}
