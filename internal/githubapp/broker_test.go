package githubapp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/memberhq/contentsync/internal/config"
)

func TestTokenReusedUntilRefreshMargin(t *testing.T) {
	ctx := t.Context()
	app := config.SecretGitHubApp{IntegrationID: 1, InstallationID: 2, PrivateKey: "pem"}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var fetches int

	b := New().
		WithClock(func() time.Time { return now }).
		WithFetcher(func(_ context.Context, _ config.SecretGitHubApp) (string, time.Time, error) {
			fetches++
			return fmt.Sprintf("token-%d", fetches), now.Add(time.Hour), nil
		})

	token, err := b.Token(ctx, app)
	if err != nil {
		t.Fatal(err)
	} else if token != "token-1" {
		t.Fatalf("unexpected token %q", token)
	}

	// Well within the token lifetime: the cached token is reused.
	now = now.Add(30 * time.Minute)
	if token, _ := b.Token(ctx, app); token != "token-1" {
		t.Fatalf("expected cached token, got %q", token)
	} else if fetches != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetches)
	}

	// Less than five minutes of lifetime left: a fresh token is fetched.
	now = now.Add(26 * time.Minute)
	if token, _ := b.Token(ctx, app); token != "token-2" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
}

func TestTokenCacheKeyedOnCredentials(t *testing.T) {
	ctx := t.Context()
	now := time.Now()

	b := New().WithFetcher(func(_ context.Context, app config.SecretGitHubApp) (string, time.Time, error) {
		return fmt.Sprintf("token-for-%d", app.InstallationID), now.Add(time.Hour), nil
	})

	t1, err := b.Token(ctx, config.SecretGitHubApp{IntegrationID: 1, InstallationID: 10, PrivateKey: "pem"})
	if err != nil {
		t.Fatal(err)
	}
	t2, err := b.Token(ctx, config.SecretGitHubApp{IntegrationID: 1, InstallationID: 20, PrivateKey: "pem"})
	if err != nil {
		t.Fatal(err)
	}

	if t1 == t2 {
		t.Fatal("expected distinct tokens for distinct installations")
	}
}

func TestTokenFetchFailureIsAuthError(t *testing.T) {
	b := New().WithFetcher(func(_ context.Context, _ config.SecretGitHubApp) (string, time.Time, error) {
		return "", time.Time{}, errors.New("401 bad credentials")
	})

	_, err := b.Token(t.Context(), config.SecretGitHubApp{IntegrationID: 1, InstallationID: 2, PrivateKey: "pem"})

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}
