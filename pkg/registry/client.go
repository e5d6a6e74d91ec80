package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/canonicalize"
	"github.com/mindburn-labs/assay/pkg/policy"
	"github.com/mindburn-labs/assay/pkg/trust"
)

// Config wires a Client's resolution order and HTTP discipline.
type Config struct {
	BaseURL        string
	CacheDir       string
	LockfilePath   string
	Overrides      map[Ref]string         // ref -> local file path, checked first
	Builtins       map[Ref]policy.Pack    // baked-in packs, checked before remote
	HTTPClient     *http.Client
	TrustStore     *trust.Store
	MaxRetries     int
	RequestsPerSec float64
	Burst          int
	Now            func() time.Time
}

// Client implements spec §4.4's resolution pipeline: local override, local
// cache, builtin set, remote registry — in that order.
type Client struct {
	cfg      Config
	limiter  *rate.Limiter
	lockfile *Lockfile

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New constructs a registry Client, loading the lockfile (if present) up
// front so every Resolve call enforces it consistently.
func New(cfg Config) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var lf *Lockfile
	if cfg.LockfilePath != "" {
		loaded, err := loadLockfile(cfg.LockfilePath)
		if err != nil {
			return nil, err
		}
		lf = loaded
	}

	return &Client{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		lockfile: lf,
	}, nil
}

// Resolve implements spec §4.4's resolution order for one (name, version)
// request.
func (c *Client) Resolve(ctx context.Context, ref Ref) (*Resolved, error) {
	now := c.cfg.Now()

	if path, ok := c.cfg.Overrides[ref]; ok {
		pack, digest, err := loadOverride(path)
		if err != nil {
			return nil, err
		}
		if err := checkLock(c.lockfile, ref, digest, ""); err != nil {
			return nil, err
		}
		return &Resolved{Pack: pack, Digest: digest, Source: "override"}, nil
	}

	if c.cfg.CacheDir != "" {
		cached, err := readCache(c.cfg.CacheDir, ref, c.cfg.TrustStore, now)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			if err := checkLock(c.lockfile, ref, cached.Digest, ""); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	if pack, ok := c.cfg.Builtins[ref]; ok {
		digest, err := pack.CanonicalDigest()
		if err != nil {
			return nil, fmt.Errorf("registry: digest builtin pack: %w", err)
		}
		if err := checkLock(c.lockfile, ref, digest, ""); err != nil {
			return nil, err
		}
		return &Resolved{Pack: pack, Digest: digest, Source: "builtin"}, nil
	}

	return c.fetchRemote(ctx, ref, now)
}

func loadOverride(path string) (policy.Pack, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy.Pack{}, "", fmt.Errorf("registry: read override pack %s: %w", path, err)
	}
	var pack policy.Pack
	if err := canonicalize.DecodeStrict(raw, &pack); err != nil {
		return policy.Pack{}, "", assayerr.New(assayerr.EPolicyParse, "override pack is not valid YAML/JSON: "+err.Error()).WithPath(path)
	}
	digest, err := pack.CanonicalDigest()
	if err != nil {
		return policy.Pack{}, "", fmt.Errorf("registry: digest override pack: %w", err)
	}
	return pack, digest, nil
}

// fetchRemote implements spec §4.4's remote fetch path (steps 1-6).
func (c *Client) fetchRemote(ctx context.Context, ref Ref, now time.Time) (*Resolved, error) {
	packBytes, digestHint, err := c.getJSON(ctx, fmt.Sprintf("/packs/%s/%s", ref.Name, ref.Version))
	if err != nil {
		return nil, err
	}

	var pack policy.Pack
	if err := canonicalize.DecodeStrict(packBytes, &pack); err != nil {
		return nil, assayerr.New(assayerr.EPolicyParse, "remote pack is not valid YAML/JSON: "+err.Error()).WithPath(ref.Name + "@" + ref.Version)
	}

	canonical, err := canonicalize.JCS(pack)
	if err != nil {
		return nil, fmt.Errorf("registry: canonicalize remote pack: %w", err)
	}
	digest, err := canonicalize.CanonicalHash(pack)
	if err != nil {
		return nil, fmt.Errorf("registry: digest remote pack: %w", err)
	}
	// digestHint (X-Pack-Digest) is informational only; the lockfile entry,
	// checked below, is the authoritative comparison per spec §4.4 step 4.
	_ = digestHint

	envelopeJSON, sigErr := c.getSignature(ctx, ref)
	if sigErr != nil {
		return nil, sigErr
	}

	if pack.RequireSigned && envelopeJSON == nil {
		return nil, assayerr.New(assayerr.MSignatureMalformed, "pack requires a signature but none was found").WithPath(ref.Name + "@" + ref.Version)
	}

	var signerKeyID string
	if envelopeJSON != nil {
		if err := c.ensureKeysManifest(ctx, now); err != nil {
			return nil, err
		}
		if verr := c.cfg.TrustStore.VerifyPack(canonical, envelopeJSON, now); verr != nil {
			return nil, verr
		}
		var env canonicalize.Envelope
		if jerr := json.Unmarshal(envelopeJSON, &env); jerr == nil && len(env.Signatures) > 0 {
			signerKeyID = env.Signatures[0].KeyID
		}
	}

	if err := checkLock(c.lockfile, ref, digest, signerKeyID); err != nil {
		return nil, err
	}

	if c.cfg.CacheDir != "" {
		if err := writeCache(c.cfg.CacheDir, ref, CacheEntry{
			PackBytes:       canonical,
			CanonicalDigest: digest,
			EnvelopeJSON:    envelopeJSON,
			CachedAt:        now,
		}); err != nil {
			return nil, err
		}
	}

	return &Resolved{Pack: pack, Digest: digest, Source: "remote"}, nil
}

// getSignature fetches a pack's DSSE envelope. A 404 means "unsigned";
// the caller decides whether that's acceptable.
func (c *Client) getSignature(ctx context.Context, ref Ref) ([]byte, error) {
	body, _, err := c.doRequest(ctx, "GET", fmt.Sprintf("/packs/%s/%s.sig", ref.Name, ref.Version), nil)
	if err != nil {
		if herr, ok := err.(*httpStatusError); ok && herr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return body, nil
}

// ensureKeysManifest fetches /keys and loads it into the trust store, per
// spec §4.4 step 3. It fetches on every call; the manifest is not cached
// between calls.
func (c *Client) ensureKeysManifest(ctx context.Context, now time.Time) error {
	body, _, err := c.doRequest(ctx, "GET", "/keys", nil)
	if err != nil {
		return err
	}
	return c.cfg.TrustStore.LoadKeysManifest(body)
}

// getJSON fetches a URL path's raw JSON bytes plus the X-Pack-Digest hint
// header, if present.
func (c *Client) getJSON(ctx context.Context, path string) ([]byte, string, error) {
	body, headers, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, "", err
	}
	return body, headers.Get("X-Pack-Digest"), nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("registry: http %d: %s", e.StatusCode, e.Body)
}

// doRequest performs one HTTP call with bearer auth, a per-request
// deadline, and bounded exponential backoff on 429/5xx, per spec §4.4's
// "HTTP discipline" paragraph. Grounded on the teacher's pkg/arc connector
// rate-limiting pattern (golang.org/x/time/rate) composed with a simple
// retry loop in the teacher's identity/sso.go HTTP-call style.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, http.Header, error) {
	url := c.cfg.BaseURL + path

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("registry: rate limiter: %w", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, method, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("registry: build request: %w", err)
		}
		if token := c.bearerToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.cfg.HTTPClient.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			if attempt < c.cfg.MaxRetries {
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			return nil, nil, assayerr.New(assayerr.ETimeout, err.Error())
		}

		respBody, rerr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if rerr != nil {
			return nil, nil, fmt.Errorf("registry: read response body: %w", rerr)
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, resp.Header, nil
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, resp.Header, &httpStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.cfg.MaxRetries {
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, nil, assayerr.New(assayerr.ERateLimit, "registry rate limit exceeded after retries")
		}
		return nil, nil, assayerr.New(assayerr.EProvider5xx, fmt.Sprintf("registry returned %d after retries", resp.StatusCode))
	}
	return nil, nil, fmt.Errorf("registry: exhausted retries: %w", lastErr)
}

func (c *Client) bearerToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// ExchangeOIDCToken trades a platform OIDC ID token for a short-lived
// ast_* access token via POST /auth/oidc/exchange, per spec §4.4's
// Authentication paragraph. Grounded on the teacher's
// pkg/identity/sso.go token-exchange HTTP shape.
func (c *Client) ExchangeOIDCToken(ctx context.Context, idToken string) error {
	// The registry's own token endpoint re-verifies the ID token's
	// signature server-side; the client only needs to reject an obviously
	// expired token before spending a round trip on it, the same pattern
	// the teacher's OIDC callback uses (parse unverified claims, check
	// exp/iss before trusting them for anything client-local).
	claims := jwt.MapClaims{}
	if _, _, perr := new(jwt.Parser).ParseUnverified(idToken, claims); perr == nil {
		if exp, eerr := claims.GetExpirationTime(); eerr == nil && exp != nil && exp.Before(c.cfg.Now()) {
			return assayerr.New(assayerr.ETimeout, "id_token is already expired")
		}
	}

	payload, err := json.Marshal(map[string]string{"id_token": idToken})
	if err != nil {
		return fmt.Errorf("registry: marshal oidc exchange request: %w", err)
	}
	body, _, err := c.doRequest(ctx, "POST", "/auth/oidc/exchange", payload)
	if err != nil {
		return err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("registry: parse oidc exchange response: %w", err)
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.tokenExpiry = c.cfg.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

// TokenExpiry reports when the current access token, if any, expires.
func (c *Client) TokenExpiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenExpiry
}
