// Package githubapp exchanges GitHub App credentials for short-lived
// installation access tokens and caches them across sync runs.
package githubapp

import (
	"context"
	"crypto/sha256"
	"fmt"
	gohttp "net/http"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/memberhq/contentsync/internal/config"
)

// refreshMargin is how long before expiry a cached token stops being
// handed out. Installation tokens live for an hour; refreshing early keeps
// a token valid for the whole of a sync run that starts near the boundary.
const refreshMargin = 5 * time.Minute

// installationTokenTTL is the lifetime GitHub assigns to installation
// access tokens.
const installationTokenTTL = time.Hour

// cacheSize bounds the token cache. Rotated private keys produce new cache
// keys; eviction keeps the stale entries from accumulating.
const cacheSize = 128

// AuthError indicates that credentials for a private repository could not
// be exchanged for a token. It is fatal for the sync run that raised it.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("github app authentication: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type fetchFunc func(ctx context.Context, app config.SecretGitHubApp) (string, time.Time, error)

type cacheKey struct {
	integrationID  int64
	installationID int64
	keySum         [sha256.Size]byte
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Broker hands out installation access tokens. Tokens are cached per
// (integration, installation, private key) triple and reused until they
// approach expiry.
type Broker struct {
	mu    sync.Mutex
	cache *lru.Cache
	fetch fetchFunc
	clock func() time.Time
}

func New() *Broker {
	cache, _ := lru.New(cacheSize) // only errors on a non-positive size
	return &Broker{
		cache: cache,
		fetch: fetchInstallationToken,
		clock: time.Now,
	}
}

func (b *Broker) WithFetcher(fetch fetchFunc) *Broker {
	b.fetch = fetch
	return b
}

func (b *Broker) WithClock(clock func() time.Time) *Broker {
	b.clock = clock
	return b
}

// Token returns an installation access token for the given app secret,
// reusing the cached token when it is still comfortably within its
// lifetime.
func (b *Broker) Token(ctx context.Context, app config.SecretGitHubApp) (string, error) {
	key := cacheKey{
		integrationID:  app.IntegrationID,
		installationID: app.InstallationID,
		keySum:         sha256.Sum256([]byte(app.PrivateKey)),
	}

	// The cache itself is thread-safe; the mutex keeps concurrent misses
	// for the same installation from each fetching a token.
	b.mu.Lock()
	defer b.mu.Unlock()

	if v, ok := b.cache.Get(key); ok {
		if cached := v.(cachedToken); b.clock().Before(cached.expiresAt.Add(-refreshMargin)) {
			return cached.token, nil
		}
	}

	token, expiresAt, err := b.fetch(ctx, app)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	b.cache.Add(key, cachedToken{token: token, expiresAt: expiresAt})
	return token, nil
}

func fetchInstallationToken(ctx context.Context, app config.SecretGitHubApp) (string, time.Time, error) {
	tr, err := ghinstallation.New(gohttp.DefaultTransport, app.IntegrationID, app.InstallationID, []byte(app.PrivateKey))
	if err != nil {
		return "", time.Time{}, err
	}

	token, err := tr.Token(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, time.Now().Add(installationTokenTTL), nil
}
