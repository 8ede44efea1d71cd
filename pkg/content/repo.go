package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

// Syncer keeps a local working copy of the content repository.
type Syncer interface {
	// Sync clones into dir when no repository exists there, otherwise pulls.
	Sync(ctx context.Context, dir string) error
}

// GitSyncer implements Syncer with go-git.
type GitSyncer struct {
	url    string
	branch string
	auth   transport.AuthMethod
}

// NewGitSyncer creates a syncer for cfg.RepoURL at cfg.Branch.
func NewGitSyncer(cfg Config) *GitSyncer {
	g := &GitSyncer{url: cfg.RepoURL, branch: cfg.Branch}
	if cfg.GitHubToken != "" {
		g.auth = &githttp.BasicAuth{Username: "x-access-token", Password: cfg.GitHubToken}
	}
	return g
}

func (g *GitSyncer) Sync(ctx context.Context, dir string) error {
	const op = "content.GitSyncer.Sync"
	ref := plumbing.NewBranchReferenceName(g.branch)

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return g.clone(ctx, dir, ref)
	}
	if err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, "open repository", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, "worktree", err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: ref,
		SingleBranch:  true,
		Auth:          g.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return sgerrors.E(sgerrors.KindTransientFetch, op, "pull", err)
	}
	return nil
}

func (g *GitSyncer) clone(ctx context.Context, dir string, ref plumbing.ReferenceName) error {
	const op = "content.GitSyncer.clone"

	_, statErr := os.Stat(dir)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           g.url,
		ReferenceName: ref,
		SingleBranch:  true,
		Depth:         1,
		Auth:          g.auth,
	})
	if err != nil {
		if !existed {
			os.RemoveAll(dir)
		}
		return sgerrors.E(sgerrors.KindTransientFetch, op, "clone "+g.url, err)
	}
	return nil
}

var _ Syncer = (*GitSyncer)(nil)
