package auth0

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	wellKnownPath   = "/.well-known/openid-configuration"
	maxResponseSize = 1 << 20
)

// discoveryDocument holds the fields of the OpenID provider metadata we use.
type discoveryDocument struct {
	Issuer           string `json:"issuer"`
	JWKSURI          string `json:"jwks_uri"`
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
}

// discoveryClient fetches provider metadata and the key set it points to.
type discoveryClient struct {
	issuer     string
	httpClient *http.Client
}

// fetch retrieves a complete SigningKeyConfig. Any failure is a *FetchError.
func (c *discoveryClient) fetch(ctx context.Context) (*SigningKeyConfig, error) {
	doc, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := c.fetchKeys(ctx, doc.JWKSURI)
	if err != nil {
		return nil, err
	}

	return newSigningKeyConfig(doc.Issuer, doc.JWKSURI, keys), nil
}

func (c *discoveryClient) discover(ctx context.Context) (*discoveryDocument, error) {
	url := strings.TrimSuffix(c.issuer, "/") + wellKnownPath

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, &FetchError{Op: "discovery", URL: url, Err: err}
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &FetchError{Op: "discovery", URL: url, Err: fmt.Errorf("malformed discovery document: %w", err)}
	}
	if doc.Issuer == "" {
		return nil, &FetchError{Op: "discovery", URL: url, Err: errors.New("discovery document missing issuer")}
	}
	if doc.JWKSURI == "" {
		return nil, &FetchError{Op: "discovery", URL: url, Err: errors.New("discovery document missing jwks_uri")}
	}
	if doc.Issuer != c.issuer {
		return nil, &FetchError{Op: "discovery", URL: url, Err: fmt.Errorf("issuer mismatch: expected %q, got %q", c.issuer, doc.Issuer)}
	}

	return &doc, nil
}

func (c *discoveryClient) fetchKeys(ctx context.Context, jwksURI string) ([]PublicKey, error) {
	body, err := c.get(ctx, jwksURI)
	if err != nil {
		return nil, &FetchError{Op: "jwks", URL: jwksURI, Err: err}
	}

	keys, err := parseKeySet(body)
	if err != nil {
		return nil, &FetchError{Op: "jwks", URL: jwksURI, Err: err}
	}
	return keys, nil
}

func (c *discoveryClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// parseKeySet turns a JWKS document into verification keys. Encryption keys
// and key types golang-jwt cannot verify with are skipped; a set with no
// usable key is an error.
func parseKeySet(body []byte) ([]PublicKey, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("malformed key set: %w", err)
	}

	keys := make([]PublicKey, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.KeyUsage() == string(jwk.ForEncryption) {
			continue
		}

		pub, err := jwk.PublicKeyOf(key)
		if err != nil {
			continue
		}
		var raw interface{}
		if err := pub.Raw(&raw); err != nil {
			continue
		}

		material, ok := verificationKey(raw)
		if !ok {
			continue
		}

		keys = append(keys, PublicKey{
			KeyID:     key.KeyID(),
			Algorithm: key.Algorithm().String(),
			Key:       material,
		})
	}

	if len(keys) == 0 {
		return nil, errors.New("key set contains no usable signing keys")
	}
	return keys, nil
}

func verificationKey(raw interface{}) (crypto.PublicKey, bool) {
	switch k := raw.(type) {
	case *rsa.PublicKey:
		return k, true
	case rsa.PublicKey:
		return &k, true
	case *ecdsa.PublicKey:
		return k, true
	case ecdsa.PublicKey:
		return &k, true
	case ed25519.PublicKey:
		return k, true
	default:
		return nil, false
	}
}
