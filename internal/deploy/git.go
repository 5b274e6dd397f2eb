package deploy

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/errors"
)

const (
	// DefaultBranch receives the published tree.
	DefaultBranch = "gh-pages"

	// DefaultRemote is the remote whose URL is pushed to.
	DefaultRemote = "origin"

	// EnvGitToken holds an HTTPS token for the push.
	EnvGitToken = "PAGES_GIT_TOKEN"
)

// GitPublisher commits the dist tree as the only content of a branch and
// force-pushes it. The commit is built in memory; the project's working
// tree is never touched.
type GitPublisher struct {
	// RepoDir is any directory inside the project repository.
	RepoDir string

	// URL overrides the remote URL read from the repository.
	URL string

	// Remote defaults to DefaultRemote.
	Remote string

	// Branch defaults to DefaultBranch.
	Branch string

	// Message defaults to "Updates".
	Message string

	// Author defaults to the repository's user, then "pages".
	Author *object.Signature

	// Auth defaults to a token from EnvGitToken when set.
	Auth transport.AuthMethod

	Logger *console.Logger
}

// Publish pushes dir to the branch.
func (g *GitPublisher) Publish(ctx context.Context, dir string) error {
	url, author, err := g.origin()
	if err != nil {
		return err
	}

	repo, hash, err := g.Commit(dir, author)
	if err != nil {
		return err
	}

	branch := g.branch()
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: DefaultRemote, URLs: []string{url}}); err != nil {
		return errors.New("E140").Wrap(err)
	}

	auth := g.Auth
	if auth == nil {
		if token := os.Getenv(EnvGitToken); token != "" {
			auth = &http.BasicAuth{Username: "token", Password: token}
		}
	}

	spec := gitconfig.RefSpec("+refs/heads/" + branch + ":refs/heads/" + branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: DefaultRemote,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !stderrors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.New("E140").
			WithDetail("Failed to push " + branch + " to " + url).
			WithSuggestion("Set " + EnvGitToken + " for HTTPS remotes").
			Wrap(err)
	}

	if g.Logger != nil {
		g.Logger.Success("Published %s to %s (%s)", branch, url, hash.String()[:8])
	}
	return nil
}

// origin reads the remote URL and default author from the project
// repository.
func (g *GitPublisher) origin() (string, *object.Signature, error) {
	author := g.Author
	if g.URL != "" && author != nil {
		return g.URL, author, nil
	}

	repo, err := git.PlainOpenWithOptions(g.RepoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", nil, errors.New("E141").
			WithDetail("No git repository found at " + g.RepoDir).
			Wrap(err)
	}

	if author == nil {
		author = repoAuthor(repo)
	}
	if g.URL != "" {
		return g.URL, author, nil
	}

	name := g.Remote
	if name == "" {
		name = DefaultRemote
	}
	remote, err := repo.Remote(name)
	if err != nil {
		return "", nil, errors.New("E141").
			WithDetail("The repository has no remote named " + name).
			WithSuggestion("Add one with: git remote add " + name + " <url>").
			Wrap(err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", nil, errors.New("E141").WithDetail("Remote " + name + " has no URL")
	}
	return urls[0], author, nil
}

// Commit builds an in-memory repository whose branch holds exactly the
// files below dir in a single commit.
func (g *GitPublisher) Commit(dir string, author *object.Signature) (*git.Repository, plumbing.Hash, error) {
	files, err := collect(dir)
	if err != nil {
		return nil, plumbing.ZeroHash, errors.New("E140").WithDetail("Failed to read " + dir).Wrap(err)
	}

	wt := memfs.New()
	repo, err := git.Init(memory.NewStorage(), wt)
	if err != nil {
		return nil, plumbing.ZeroHash, errors.New("E140").Wrap(err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(g.branch()))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, plumbing.ZeroHash, errors.New("E140").Wrap(err)
	}

	for _, f := range files {
		if err := util.WriteFile(wt, f.Rel, f.Data, 0644); err != nil {
			return nil, plumbing.ZeroHash, errors.New("E140").Wrap(err)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, plumbing.ZeroHash, errors.New("E140").Wrap(err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, plumbing.ZeroHash, errors.New("E140").Wrap(err)
	}

	if author == nil {
		author = &object.Signature{Name: "pages", Email: "pages@localhost"}
	}
	sig := *author
	if sig.When.IsZero() {
		sig.When = time.Now()
	}
	message := g.Message
	if message == "" {
		message = "Updates"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author:            &sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, plumbing.ZeroHash, errors.New("E140").Wrap(err)
	}
	return repo, hash, nil
}

func (g *GitPublisher) branch() string {
	if g.Branch == "" {
		return DefaultBranch
	}
	return g.Branch
}

// repoAuthor returns the user configured for repo, or nil.
func repoAuthor(repo *git.Repository) *object.Signature {
	cfg, err := repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil || cfg.User.Name == "" || cfg.User.Email == "" {
		return nil
	}
	return &object.Signature{Name: cfg.User.Name, Email: cfg.User.Email}
}
