// Package remotes manages the Git remote configuration: adding, removing,
// renaming, and re-pointing remotes, keeping the remote-tracking refs and
// the view's records consistent with the config.
package remotes

import (
	"errors"
	"fmt"
	"log/slog"
	"golang.org/x/exp/maps"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/adalundhe/tideline/core/model"
)

var (
	ErrNoSuchRemote        = errors.New("no such git remote")
	ErrRemoteAlreadyExists = errors.New("git remote already exists")

	// ErrNonstandardConfiguration marks remote or branch config this layer
	// refuses to rewrite: extra keys, push refspecs, or multivalued
	// settings whose intent it cannot preserve.
	ErrNonstandardConfiguration = errors.New("git remote has nonstandard configuration")
)

// Registry edits the repository's remote configuration and mirrors the
// edits into the view.
type Registry struct {
	repo   *gogit.Repository
	view   *model.View
	logger *slog.Logger
}

func NewRegistry(repo *gogit.Repository, view *model.View) *Registry {
	return &Registry{
		repo:   repo,
		view:   view,
		logger: slog.Default().With("component", "git-remotes"),
	}
}

// DefaultFetchRefSpec is the refspec `git remote add` would configure.
func DefaultFetchRefSpec(remote string) string {
	return "+refs/heads/*:refs/remotes/" + remote + "/*"
}

// List returns the configured remote names, sorted.
func (r *Registry) List() ([]string, error) {
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return nil, fmt.Errorf("read git config: %w", err)
	}
	names := maps.Keys(cfg.Remotes)
	slices.Sort(names)
	return names, nil
}

// Add configures a new remote with the default fetch refspec.
func (r *Registry) Add(name, url string) error {
	if err := model.ValidateRemoteName(name); err != nil {
		return err
	}
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return fmt.Errorf("read git config: %w", err)
	}
	if _, ok := cfg.Remotes[name]; ok {
		return fmt.Errorf("%w: %q", ErrRemoteAlreadyExists, name)
	}
	cfg.Remotes[name] = &gitconfig.RemoteConfig{
		Name:  name,
		URLs:  []string{url},
		Fetch: []gitconfig.RefSpec{gitconfig.RefSpec(DefaultFetchRefSpec(name))},
	}
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("save git config: %w", err)
	}
	r.logger.Debug("added remote", "remote", name, "url", url)
	return nil
}

// Remove deletes a remote's configuration, its branch-tracking config
// entries, its remote-tracking refs, and the view's records of it.
func (r *Registry) Remove(name string) error {
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return fmt.Errorf("read git config: %w", err)
	}
	if _, ok := cfg.Remotes[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchRemote, name)
	}
	if err := checkStandardRemoteSection(cfg, name); err != nil {
		return err
	}
	trackingBranches, err := branchesTrackingRemote(cfg, name)
	if err != nil {
		return err
	}

	for _, branch := range trackingBranches {
		delete(cfg.Branches, branch)
	}
	delete(cfg.Remotes, name)
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("save git config: %w", err)
	}

	if err := r.removeRemoteRefs(name); err != nil {
		return err
	}
	if name != model.GitRemoteName {
		r.view.RemoveRemote(name)
		r.removeViewGitRefs(name)
	}
	r.logger.Debug("removed remote", "remote", name)
	return nil
}

// Rename moves a remote to a new name: config, branch-tracking entries,
// remote-tracking refs, and view records. Only remotes still carrying the
// default fetch refspec and no push configuration can be renamed safely.
func (r *Registry) Rename(oldName, newName string) error {
	if err := model.ValidateRemoteName(newName); err != nil {
		return err
	}
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return fmt.Errorf("read git config: %w", err)
	}
	remote, ok := cfg.Remotes[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchRemote, oldName)
	}
	if _, ok := cfg.Remotes[newName]; ok {
		return fmt.Errorf("%w: %q", ErrRemoteAlreadyExists, newName)
	}
	if err := checkStandardRemoteSection(cfg, oldName); err != nil {
		return err
	}
	if len(remote.Fetch) != 1 || string(remote.Fetch[0]) != DefaultFetchRefSpec(oldName) {
		return fmt.Errorf("%w: %q", ErrNonstandardConfiguration, oldName)
	}
	trackingBranches, err := branchesTrackingRemote(cfg, oldName)
	if err != nil {
		return err
	}

	cfg.Remotes[newName] = &gitconfig.RemoteConfig{
		Name:  newName,
		URLs:  slices.Clone(remote.URLs),
		Fetch: []gitconfig.RefSpec{gitconfig.RefSpec(DefaultFetchRefSpec(newName))},
	}
	delete(cfg.Remotes, oldName)
	for _, branch := range trackingBranches {
		cfg.Branches[branch].Remote = newName
	}
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("save git config: %w", err)
	}

	if err := r.renameRemoteRefs(oldName, newName); err != nil {
		return err
	}
	if oldName != model.GitRemoteName {
		r.view.RenameRemote(oldName, newName)
		r.renameViewGitRefs(oldName, newName)
	}
	r.logger.Debug("renamed remote", "old", oldName, "new", newName)
	return nil
}

// SetURL points an existing remote at a new URL. Remotes with a separate
// push URL are refused since only the fetch URL would change.
func (r *Registry) SetURL(name, url string) error {
	if err := model.ValidateRemoteName(name); err != nil {
		return err
	}
	cfg, err := r.repo.Storer.Config()
	if err != nil {
		return fmt.Errorf("read git config: %w", err)
	}
	remote, ok := cfg.Remotes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchRemote, name)
	}
	if err := checkStandardRemoteSection(cfg, name); err != nil {
		return err
	}
	remote.URLs = []string{url}
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("save git config: %w", err)
	}
	r.logger.Debug("set remote url", "remote", name, "url", url)
	return nil
}

// checkStandardRemoteSection refuses remote sections carrying keys beyond
// url and fetch: push refspecs, push URLs, tag options, and the like.
func checkStandardRemoteSection(cfg *gitconfig.Config, name string) error {
	section := cfg.Raw.Section("remote").Subsection(name)
	for _, option := range section.Options {
		if !strings.EqualFold(option.Key, "url") && !strings.EqualFold(option.Key, "fetch") {
			return fmt.Errorf("%w: %q", ErrNonstandardConfiguration, name)
		}
	}
	return nil
}

// branchesTrackingRemote lists branch config sections whose remote is the
// given one. Sections with multivalued or unexpected keys, or a pushRemote,
// cannot be rewritten faithfully and are rejected.
func branchesTrackingRemote(cfg *gitconfig.Config, name string) ([]string, error) {
	var branches []string
	for _, section := range cfg.Raw.Section("branch").Subsections {
		remoteValues := section.OptionAll("remote")
		pushRemoteValues := section.OptionAll("pushRemote")
		if !slices.Contains(remoteValues, name) && !slices.Contains(pushRemoteValues, name) {
			continue
		}
		if len(remoteValues) > 1 || len(pushRemoteValues) > 1 {
			return nil, fmt.Errorf("%w: %q", ErrNonstandardConfiguration, name)
		}
		for _, option := range section.Options {
			if !strings.EqualFold(option.Key, "remote") && !strings.EqualFold(option.Key, "merge") {
				return nil, fmt.Errorf("%w: %q", ErrNonstandardConfiguration, name)
			}
		}
		branches = append(branches, section.Name)
	}
	return branches, nil
}

func (r *Registry) removeRemoteRefs(name string) error {
	prefix := "refs/remotes/" + name + "/"
	refs, err := r.refsWithPrefix(prefix)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := r.repo.Storer.RemoveReference(ref.Name()); err != nil {
			return fmt.Errorf("remove ref %s: %w", ref.Name(), err)
		}
	}
	return nil
}

func (r *Registry) renameRemoteRefs(oldName, newName string) error {
	oldPrefix := "refs/remotes/" + oldName + "/"
	newPrefix := "refs/remotes/" + newName + "/"
	refs, err := r.refsWithPrefix(oldPrefix)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		newRefName := plumbing.ReferenceName(newPrefix + strings.TrimPrefix(string(ref.Name()), oldPrefix))
		var moved *plumbing.Reference
		if ref.Type() == plumbing.SymbolicReference {
			moved = plumbing.NewSymbolicReference(newRefName, ref.Target())
		} else {
			moved = plumbing.NewHashReference(newRefName, ref.Hash())
		}
		if err := r.repo.Storer.SetReference(moved); err != nil {
			return fmt.Errorf("create ref %s: %w", newRefName, err)
		}
		if err := r.repo.Storer.RemoveReference(ref.Name()); err != nil {
			return fmt.Errorf("remove ref %s: %w", ref.Name(), err)
		}
	}
	return nil
}

func (r *Registry) refsWithPrefix(prefix string) ([]*plumbing.Reference, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("enumerate refs: %w", err)
	}
	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(string(ref.Name()), prefix) {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *Registry) removeViewGitRefs(name string) {
	prefix := "refs/remotes/" + name + "/"
	for refName := range r.view.GitRefs {
		if strings.HasPrefix(refName, prefix) {
			delete(r.view.GitRefs, refName)
		}
	}
}

func (r *Registry) renameViewGitRefs(oldName, newName string) {
	oldPrefix := "refs/remotes/" + oldName + "/"
	newPrefix := "refs/remotes/" + newName + "/"
	moved := make(map[string]model.RefTarget)
	for refName, target := range r.view.GitRefs {
		if suffix, ok := strings.CutPrefix(refName, oldPrefix); ok {
			moved[newPrefix+suffix] = target
			delete(r.view.GitRefs, refName)
		}
	}
	maps.Copy(r.view.GitRefs, moved)
}
