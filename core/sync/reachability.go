package sync

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/adalundhe/tideline/core/model"
)

// Reachability answers the ancestry questions abandonment needs. A revset
// engine can provide a richer implementation; GraphReachability walks the
// Git commit graph directly.
type Reachability interface {
	// Range returns the commits reachable from heads but not from roots,
	// restricted to commits still visible, in no particular order.
	Range(ctx context.Context, roots, heads []model.CommitID) ([]model.CommitID, error)
}

// GraphReachability computes ranges by walking commit parents through the
// repository's object store. Every stored commit counts as visible.
type GraphReachability struct {
	repo *gogit.Repository
}

func NewGraphReachability(repo *gogit.Repository) *GraphReachability {
	return &GraphReachability{repo: repo}
}

func (g *GraphReachability) Range(ctx context.Context, roots, heads []model.CommitID) ([]model.CommitID, error) {
	excluded, err := g.reachableSet(ctx, roots)
	if err != nil {
		return nil, err
	}

	var out []model.CommitID
	seen := make(map[model.CommitID]struct{})
	stack := filterRoot(heads)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		if _, cut := excluded[id]; cut {
			continue
		}

		parents, ok, err := g.parents(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// The object was already collected; nothing to abandon.
			continue
		}
		out = append(out, id)
		stack = append(stack, parents...)
	}
	return out, nil
}

func (g *GraphReachability) reachableSet(ctx context.Context, from []model.CommitID) (map[model.CommitID]struct{}, error) {
	seen := make(map[model.CommitID]struct{})
	stack := filterRoot(from)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}

		parents, ok, err := g.parents(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		stack = append(stack, parents...)
	}
	return seen, nil
}

func (g *GraphReachability) parents(id model.CommitID) ([]model.CommitID, bool, error) {
	commit, err := object.GetCommit(g.repo.Storer, id.Hash())
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read commit %s: %w", id.Hex(), err)
	}
	parents := make([]model.CommitID, 0, len(commit.ParentHashes))
	for _, h := range commit.ParentHashes {
		parents = append(parents, model.CommitIDFromHash(h))
	}
	return parents, true, nil
}

func filterRoot(ids []model.CommitID) []model.CommitID {
	out := make([]model.CommitID, 0, len(ids))
	for _, id := range ids {
		if !id.IsRoot() {
			out = append(out, id)
		}
	}
	return out
}
