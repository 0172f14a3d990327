// gitsync package maintains a local filesystem clone for each configured
// content source and brings it up to date ahead of a sync run. This package
// implements no threadpooling, it is expected that the caller will handle
// concurrency and parallelism. The Synchronizer is not thread-safe.
package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/githubapp"
	"github.com/memberhq/contentsync/internal/logging"
	"github.com/memberhq/contentsync/internal/metrics"
)

// configFile is an internal config file used to track if a git repository
// can be re-used or needs to be wiped.
const configFile = "csyncconfig"

// headFile records the branch resolved at clone time for sources that do
// not pin a reference, so later runs follow the same branch.
const headFile = "csynchead"

const remote = "origin"

// fetchRetries bounds the exponential backoff applied to transient clone
// and fetch failures.
const fetchRetries = 3

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

// FetchError indicates the remote repository could not be cloned or updated.
// It is fatal for the sync run that raised it.
type FetchError struct {
	Repo string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %v: %v", e.Repo, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Synchronizer struct {
	path       string
	config     config.Git
	sourceName string
	broker     *githubapp.Broker
	log        *logging.Logger
}

// New creates a new Synchronizer instance. The synchronizer does not validate
// the path holds the same repository as the config. Therefore, the caller
// should guarantee that the path is unique for each repository and that the
// path is not used by multiple Synchronizer instances. If the path does not
// exist, it will be created.
func New(path string, config config.Git, sourceName string) *Synchronizer {
	return &Synchronizer{path: path, config: config, sourceName: sourceName}
}

// WithBroker configures the synchronizer to exchange GitHub App credentials
// for installation tokens through the given broker.
func (s *Synchronizer) WithBroker(broker *githubapp.Broker) *Synchronizer {
	s.broker = broker
	return s
}

func (s *Synchronizer) WithLogger(log *logging.Logger) *Synchronizer {
	s.log = log
	return s
}

// Execute clones the configured repository if it does not exist on disk, or
// fetches and checks out the latest changes if it does. It returns the commit
// SHA the worktree points at afterwards.
func (s *Synchronizer) Execute(ctx context.Context) (string, error) {
	startTime := time.Now()

	commit, err := s.execute(ctx)
	if err != nil {
		metrics.GitFetchFailed(s.sourceName, s.config.Repo)

		var authErr *githubapp.AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &FetchError{Repo: s.config.Repo, Err: err}
	}

	metrics.GitFetchSucceeded(s.sourceName, s.config.Repo, startTime)
	return commit, nil
}

func (s *Synchronizer) execute(ctx context.Context) (string, error) {
	// A configuration change may necessitate wiping an earlier clone: in
	// particular, re-cloning is the easiest option if the repository URL has
	// changed. For simplicity, follow the same logic with any config change
	// EXCEPT for credentials. That's because it's harder to do, the resolved
	// file alone won't have the secrets, only their names.

	if data, err := os.ReadFile(filepath.Join(s.path, ".git", configFile)); err == nil {
		config := config.Git{
			Credentials: s.config.Credentials,
		}
		if err := json.Unmarshal(data, &config); err != nil || !config.Equal(&s.config) {
			if err := os.RemoveAll(s.path); err != nil {
				return "", err
			}
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	var authMethod transport.AuthMethod

	repository, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		authMethod, err = s.auth(ctx)
		if err != nil {
			return "", err
		}

		repository, err = s.clone(ctx, authMethod)
		if err != nil {
			return "", err
		}
	} else if err != nil { // other errors are bubbled up
		return "", err
	}

	w, err := repository.Worktree()
	if err != nil {
		return "", err
	}

	if authMethod == nil {
		authMethod, err = s.auth(ctx)
		if err != nil {
			return "", err
		}
	}

	if err := s.fetch(ctx, repository, authMethod); err != nil {
		return "", err
	}

	reference, err := s.reference()
	if err != nil {
		return "", err
	}

	if err := w.Checkout(&git.CheckoutOptions{
		Force:  true, // Discard any local changes
		Branch: plumbing.ReferenceName(fmt.Sprintf("refs/remotes/%s/%s", remote, reference)),
	}); err != nil {
		return "", err
	}

	head, err := repository.Head()
	if err != nil {
		return "", err
	}

	return head.Hash().String(), nil
}

// Path returns the directory holding the worktree the parsers read from.
func (s *Synchronizer) Path() string {
	if s.config.Path != nil {
		return filepath.Join(s.path, *s.config.Path)
	}
	return s.path
}

func (*Synchronizer) Close(context.Context) {
	// No resources to close.
}

func (s *Synchronizer) clone(ctx context.Context, authMethod transport.AuthMethod) (*git.Repository, error) {
	var referenceName plumbing.ReferenceName
	if s.config.Reference != nil {
		referenceName = plumbing.ReferenceName(fmt.Sprintf("refs/heads/%s", *s.config.Reference))
	}

	var repository *git.Repository
	err := backoff.Retry(func() error {
		var err error
		repository, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
			URL:               s.config.Repo,
			Auth:              authMethod,
			RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
			ReferenceName:     referenceName,
			SingleBranch:      true,
			NoCheckout:        true, // We will checkout later
		})
		if err != nil {
			// Leftovers from a failed clone would break the retry.
			_ = os.RemoveAll(s.path)
			return permanentIfAuth(err)
		}
		return nil
	}, s.backoff(ctx))
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(s.config)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(s.path, ".git", configFile), data, 0644); err != nil {
		return nil, err
	}

	if s.config.Reference == nil {
		head, err := repository.Reference(plumbing.HEAD, false)
		if err != nil {
			return nil, err
		}
		branch := strings.TrimPrefix(head.Target().String(), "refs/heads/")
		if err := os.WriteFile(filepath.Join(s.path, ".git", headFile), []byte(branch), 0644); err != nil {
			return nil, err
		}
	}

	return repository, nil
}

func (s *Synchronizer) fetch(ctx context.Context, repository *git.Repository, authMethod transport.AuthMethod) error {
	return backoff.Retry(func() error {
		err := repository.FetchContext(ctx, &git.FetchOptions{
			RemoteName: remote,
			Auth:       authMethod,
			Force:      true,
			RefSpecs: []gitconfig.RefSpec{
				gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remote)),
			},
		})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return permanentIfAuth(err)
		}
		return nil
	}, s.backoff(ctx))
}

// reference resolves the branch to check out: the configured reference, or
// the branch recorded when the clone followed the remote default.
func (s *Synchronizer) reference() (string, error) {
	if s.config.Reference != nil {
		return *s.config.Reference, nil
	}

	data, err := os.ReadFile(filepath.Join(s.path, ".git", headFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Synchronizer) backoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, fetchRetries), ctx)
}

// permanentIfAuth stops retrying on credential errors. Backoff cannot fix a
// rejected token.
func permanentIfAuth(err error) error {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return backoff.Permanent(err)
	}
	return err
}
