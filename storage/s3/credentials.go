package s3

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/pgbackrest/pgbackrest-sub008/httpclient"
)

// CredentialProvider resolves the SigV4 credentials to sign a request
// with, re-resolving when a prior set has expired. Grounded on
// backend/s3/s3.go's s3Connection "first provider to supply a credential
// set wins" chain, reusing aws-sdk-go's credentials.Value shape (per
// DESIGN.md) without pulling in the SDK's own HTTP transport.
type CredentialProvider interface {
	Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error)
}

func toSigV4(v credentials.Value) httpclient.SigV4Credentials {
	return httpclient.SigV4Credentials{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		SessionToken:    v.SessionToken,
	}
}

// StaticCredentials returns a fixed access key / secret / optional session
// token, the "static" shape spec.md §4.4 lists.
type StaticCredentials struct {
	Value credentials.Value
}

func (s StaticCredentials) Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error) {
	if s.Value.AccessKeyID == "" || s.Value.SecretAccessKey == "" {
		return httpclient.SigV4Credentials{}, fmt.Errorf("s3: static credentials missing access key or secret")
	}
	return toSigV4(s.Value), nil
}

// EnvCredentials reads AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY/
// AWS_SESSION_TOKEN, mirroring credentials.EnvProvider.
type EnvCredentials struct{}

func (EnvCredentials) Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error) {
	v := httpclient.SigV4Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	if v.AccessKeyID == "" || v.SecretAccessKey == "" {
		return httpclient.SigV4Credentials{}, fmt.Errorf("s3: AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set")
	}
	return v, nil
}

// TemporaryCredentials wraps an access key/secret/session-token triple
// together with an expiry, the temporary-session shape spec.md §4.4 lists
// (e.g. credentials vended by an STS AssumeRole call upstream of this
// package). Retrieve fails once Expiry has passed so the chain below it
// gets a chance to re-resolve.
type TemporaryCredentials struct {
	Value  credentials.Value
	Expiry time.Time
	Now    func() time.Time
}

func (t TemporaryCredentials) Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error) {
	now := t.Now
	if now == nil {
		now = time.Now
	}
	if !t.Expiry.IsZero() && now().After(t.Expiry) {
		return httpclient.SigV4Credentials{}, fmt.Errorf("s3: temporary credentials expired at %s", t.Expiry)
	}
	return toSigV4(t.Value), nil
}

// WebIdentityRetriever exchanges a web identity token (e.g. a Kubernetes
// service-account token) for temporary credentials; callers supply the STS
// exchange itself (out of scope here, per spec.md §1's "no network
// federation protocol implementation") and WebIdentityCredentials just
// caches and re-invokes it on expiry.
type WebIdentityRetriever func(ctx context.Context) (credentials.Value, time.Time, error)

// WebIdentityCredentials is the "assumed role via web identity" shape
// spec.md §4.4 lists, caching the exchanged credentials until Expiry.
type WebIdentityCredentials struct {
	Exchange WebIdentityRetriever
	Now      func() time.Time

	mu      sync.Mutex
	cached  httpclient.SigV4Credentials
	expiry  time.Time
	fetched bool
}

func (w *WebIdentityCredentials) Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fetched && now().Before(w.expiry) {
		return w.cached, nil
	}

	v, expiry, err := w.Exchange(ctx)
	if err != nil {
		return httpclient.SigV4Credentials{}, fmt.Errorf("s3: web identity exchange: %w", err)
	}
	w.cached = toSigV4(v)
	w.expiry = expiry
	w.fetched = true
	return w.cached, nil
}

// ChainCredentials tries each Provider in order, returning the first one
// that resolves successfully, per backend/s3/s3.go's
// credentials.NewChainCredentials "first provider to supply a credential
// set wins" rule.
type ChainCredentials struct {
	Providers []CredentialProvider
}

func (c ChainCredentials) Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error) {
	var lastErr error
	for _, p := range c.Providers {
		v, err := p.Retrieve(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("s3: no credential provider configured")
	}
	return httpclient.SigV4Credentials{}, fmt.Errorf("s3: all credential providers failed: %w", lastErr)
}

// AnonymousCredentials signs nothing, for unauthenticated public-bucket
// access, mirroring credentials.AnonymousCredentials.
type AnonymousCredentials struct{}

func (AnonymousCredentials) Retrieve(ctx context.Context) (httpclient.SigV4Credentials, error) {
	return httpclient.SigV4Credentials{}, nil
}
