// Package repo resolves the owner repository a lock is requested for.
package repo

import (
	"os"
	"strings"

	"github.com/go-git/go-git/v5"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

// EnvGitHubRepository is set by the GitHub Actions runner to "owner/repo".
const EnvGitHubRepository = "GITHUB_REPOSITORY"

// Resolver finds the owner repository for the current run.
type Resolver struct {
	dir    string
	getenv func(string) string
}

// NewResolver creates a resolver that inspects the clone at dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir, getenv: os.Getenv}
}

// Resolve returns explicit when set, then the runner's repository, then
// owner/repo parsed from the clone's origin remote.
func (r *Resolver) Resolve(explicit string) (string, error) {
	const op = "repo.Resolve"

	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(r.getenv(EnvGitHubRepository)); v != "" {
		return v, nil
	}

	url, err := r.originURL()
	if err != nil {
		return "", rperrors.ConfigWrap(err, op, "repository is not set and could not be read from the git origin remote")
	}
	slug := Slug(url)
	if slug == "" {
		return "", rperrors.Config(op, "repository is not set and origin remote "+url+" is not owner/repo shaped")
	}
	return slug, nil
}

// originURL returns the first URL of the origin remote, or of the first
// remote when origin is absent.
func (r *Resolver) originURL() (string, error) {
	repository, err := git.PlainOpenWithOptions(r.dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", err
	}

	if origin, err := repository.Remote("origin"); err == nil {
		if urls := origin.Config().URLs; len(urls) > 0 {
			return urls[0], nil
		}
	}

	remotes, err := repository.Remotes()
	if err != nil {
		return "", err
	}
	for _, remote := range remotes {
		if urls := remote.Config().URLs; len(urls) > 0 {
			return urls[0], nil
		}
	}
	return "", git.ErrRemoteNotFound
}

// Slug extracts "owner/repo" from a remote URL. It supports
//
//	https://github.com/owner/repo.git
//	git@github.com:owner/repo.git
//	ssh://git@github.com/owner/repo.git
func Slug(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, ".git")

	var path string
	switch {
	case strings.Contains(url, "://"):
		rest := url[strings.Index(url, "://")+3:]
		slash := strings.Index(rest, "/")
		if slash == -1 {
			return ""
		}
		path = rest[slash+1:]
	case strings.Contains(url, "@") && strings.Contains(url, ":"):
		path = url[strings.Index(url, ":")+1:]
	default:
		return ""
	}

	parts := strings.FieldsFunc(path, func(c rune) bool { return c == '/' })
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}
