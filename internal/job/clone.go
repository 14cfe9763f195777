package job

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rurikawa-judge/judger/errors"
)

// cloneShallowDepth matches §4.7 step 2: a shallow clone is enough to
// check out one revision and its immediate lineage for judge.toml
// discovery; judging never needs full history.
const cloneShallowDepth = 3

// cloneRepoAtRevision shallow-clones repoURL into dir and checks out
// revision.
func cloneRepoAtRevision(ctx context.Context, repoURL, revision, dir string) error {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           repoURL,
		Depth:         cloneShallowDepth,
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to clone %s", repoURL)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "failed to open worktree after clone")
	}

	if err := wt.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(revision),
		Force: true,
	}); err != nil {
		return errors.Wrapf(err, "failed to check out revision %s", revision)
	}
	return nil
}
