// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/patrickmn/go-cache"

	sdkhttp "github.com/caademo/caa/sdk/http"
)

// maxJWKSSize caps the size of a JWKS response body.
const maxJWKSSize = 1 << 20

const jwksCacheKey = "jwks"

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {
	// VerificationKeys returns the candidate public keys for a token signed
	// with alg. kid is the token's "kid" header and may be empty.
	VerificationKeys(ctx context.Context, kid string, alg Alg) ([]crypto.PublicKey, error)
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
// The fetched set is cached for a TTL.  A kid that isn't in the cached set
// forces one refetch, but never more often than the min refresh interval.
type JSONWebKeySet struct {
	jwksURL string
	client  *http.Client
	logger  hclog.Logger
	now     func() time.Time

	ttl        time.Duration
	minRefresh time.Duration

	cache *cache.Cache

	mu        sync.Mutex // serializes fetches
	lastFetch time.Time
}

var _ KeySet = (*JSONWebKeySet)(nil)

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys
// from the JSON Web Key Set (JWKS) at the given jwksURL.  The JWKS isn't
// fetched until the first verification.
//
// Supported options:
//   - WithHTTPClient
//   - WithCacheTTL
//   - WithMinRefreshInterval
//   - WithLogger
func NewJSONWebKeySet(jwksURL string, opt ...Option) (*JSONWebKeySet, error) {
	const op = "NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks url is empty: %w", op, ErrInvalidParameter)
	}
	if u, err := url.Parse(jwksURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("%s: jwks url %q is not an http(s) url: %w", op, jwksURL, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = sdkhttp.NewClient(""); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &JSONWebKeySet{
		jwksURL:    jwksURL,
		client:     client,
		logger:     opts.withLogger,
		now:        opts.withNow,
		ttl:        opts.withCacheTTL,
		minRefresh: opts.withMinRefreshInterval,
		cache:      cache.New(opts.withCacheTTL, 2*opts.withCacheTTL),
	}, nil
}

// VerificationKeys implements KeySet.
func (ks *JSONWebKeySet) VerificationKeys(ctx context.Context, kid string, alg Alg) ([]crypto.PublicKey, error) {
	const op = "JSONWebKeySet.VerificationKeys"
	set, err := ks.keys(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	keys, err := selectKeys(set, kid, alg)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, ErrKeyNotFound) || kid == "" {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// the signer may have rotated its keys since the last fetch
	set, err = ks.keys(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	keys, err = selectKeys(set, kid, alg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// keys returns the cached JWKS, fetching it when the cache is empty or when
// forced and the min refresh interval has passed.
func (ks *JSONWebKeySet) keys(ctx context.Context, force bool) (*jose.JSONWebKeySet, error) {
	if !force {
		if v, ok := ks.cache.Get(jwksCacheKey); ok {
			return v.(*jose.JSONWebKeySet), nil
		}
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	cached, ok := ks.cache.Get(jwksCacheKey)
	switch {
	case ok && !force:
		// another caller fetched while we waited for the lock
		return cached.(*jose.JSONWebKeySet), nil
	case ok && force && ks.now().Sub(ks.lastFetch) < ks.minRefresh:
		ks.logger.Trace("skipping jwks refresh", "url", ks.jwksURL, "last_fetch", ks.lastFetch)
		return cached.(*jose.JSONWebKeySet), nil
	}

	set, err := ks.fetch(ctx)
	if err != nil {
		return nil, err
	}
	ks.cache.Set(jwksCacheKey, set, ks.ttl)
	ks.lastFetch = ks.now()
	ks.logger.Debug("fetched jwks", "url", ks.jwksURL, "keys", len(set.Keys))
	return set, nil
}

func (ks *JSONWebKeySet) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySetFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySetFetch, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read response: %w", ErrKeySetFetch, err)
	}
	return unmarshalResp(resp, body)
}

// unmarshalResp decodes a JWKS http response.
func unmarshalResp(r *http.Response, body []byte) (*jose.JSONWebKeySet, error) {
	if r.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrKeySetFetch, r.Status)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: unable to decode keys: %w", ErrKeySetFetch, err)
	}
	if len(set.Keys) == 0 {
		return nil, ErrEmptyKeySet
	}
	return &set, nil
}

// selectKeys finds the signing keys in the set usable for a token with the
// kid and alg.  Without a kid, the set must hold exactly one usable key.
func selectKeys(set *jose.JSONWebKeySet, kid string, alg Alg) ([]crypto.PublicKey, error) {
	candidates := set.Keys
	if kid != "" {
		candidates = set.Key(kid)
	}
	var keys []crypto.PublicKey
	for _, k := range candidates {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != string(alg) {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		if !keyMatchesAlg(k.Key, alg) {
			continue
		}
		keys = append(keys, k.Key)
	}
	switch {
	case len(keys) == 0:
		return nil, fmt.Errorf("%w: kid %q alg %s", ErrKeyNotFound, kid, alg)
	case kid == "" && len(keys) > 1:
		return nil, fmt.Errorf("%w: token has no kid and the set has %d %s keys", ErrKeyNotFound, len(keys), alg)
	}
	return keys, nil
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	publicKeys []crypto.PublicKey
}

var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet that verifies JWT signatures using PEM-encoded public keys.
// The given publicKeys must be of PEM-encoded x509 certificate or PKIX public key forms.
func NewStaticKeySet(publicKeys []string) (*StaticKeySet, error) {
	const op = "NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	parsed := make([]crypto.PublicKey, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		parsed = append(parsed, key)
	}
	return &StaticKeySet{publicKeys: parsed}, nil
}

// VerificationKeys implements KeySet.  The kid is ignored since PEM keys
// don't carry one; every key of the right type is a candidate.
func (ks *StaticKeySet) VerificationKeys(_ context.Context, _ string, alg Alg) ([]crypto.PublicKey, error) {
	var keys []crypto.PublicKey
	for _, k := range ks.publicKeys {
		if keyMatchesAlg(k, alg) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("StaticKeySet.VerificationKeys: %w: alg %s", ErrKeyNotFound, alg)
	}
	return keys, nil
}

// ParsePublicKeyPEM is used to parse RSA and ECDSA public keys from PEMs.
// It returns a *rsa.PublicKey or *ecdsa.PublicKey.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, err
			}
		}

		if rsaPublicKey, ok := rawKey.(*rsa.PublicKey); ok {
			return rsaPublicKey, nil
		}
		if ecPublicKey, ok := rawKey.(*ecdsa.PublicKey); ok {
			return ecPublicKey, nil
		}
	}

	return nil, errors.New("data does not contain any valid RSA or ECDSA public keys")
}
