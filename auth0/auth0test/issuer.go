// Package auth0test provides an in-process identity provider for tests.
// It serves an OpenID discovery document, a JWKS and a /userinfo endpoint,
// and mints RS256 tokens whose claims keep the order they were given in.
//
// Example usage:
//
//	issuer := auth0test.NewIssuer(t, "api://orders")
//
//	token := issuer.CreateToken("user1", auth0test.F("scope", "read"))
package auth0test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	DiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath      = "/.well-known/jwks.json"
	UserInfoPath  = "/userinfo"
)

// Field is one claim of a minted token. Order is preserved in the payload.
type Field struct {
	Name  string
	Value interface{}
}

// F is shorthand for Field{name, value}.
func F(name string, value interface{}) Field {
	return Field{Name: name, Value: value}
}

type signingKey struct {
	kid     string
	private *rsa.PrivateKey
}

// Issuer is a fake identity provider backed by httptest.Server.
type Issuer struct {
	server   *httptest.Server
	audience string

	mu       sync.Mutex
	keys     []signingKey
	userInfo map[string]interface{}
	latency  time.Duration

	failing       atomic.Bool
	discoveryHits atomic.Int64
	jwksHits      atomic.Int64
	userInfoHits  atomic.Int64
}

// NewIssuer starts an issuer with one RSA key and registers cleanup with t.
func NewIssuer(t testing.TB, audience string) *Issuer {
	t.Helper()

	iss := &Issuer{audience: audience}
	iss.keys = []signingKey{newSigningKey(t, "test-key-1")}

	mux := http.NewServeMux()
	mux.HandleFunc(DiscoveryPath, iss.handleDiscovery)
	mux.HandleFunc(JWKSPath, iss.handleJWKS)
	mux.HandleFunc(UserInfoPath, iss.handleUserInfo)

	iss.server = httptest.NewServer(mux)
	t.Cleanup(iss.server.Close)
	return iss
}

func newSigningKey(t testing.TB, kid string) signingKey {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return signingKey{kid: kid, private: private}
}

// URL returns the server base URL without a trailing slash.
func (i *Issuer) URL() string {
	return i.server.URL
}

// Issuer returns the issuer identifier in Auth0 form, with a trailing slash.
func (i *Issuer) Issuer() string {
	return i.server.URL + "/"
}

// Audience returns the default audience put in minted tokens.
func (i *Issuer) Audience() string {
	return i.audience
}

// Client returns an HTTP client for the test server.
func (i *Issuer) Client() *http.Client {
	return i.server.Client()
}

// KeyID returns the kid of the current signing key.
func (i *Issuer) KeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[len(i.keys)-1].kid
}

// RotateKey adds a new signing key that becomes current. Old keys stay
// published unless keepOld is false.
func (i *Issuer) RotateKey(t testing.TB, kid string, keepOld bool) {
	t.Helper()
	key := newSigningKey(t, kid)

	i.mu.Lock()
	defer i.mu.Unlock()
	if keepOld {
		i.keys = append(i.keys, key)
	} else {
		i.keys = []signingKey{key}
	}
}

// SetFailing makes the discovery and JWKS endpoints answer 500.
func (i *Issuer) SetFailing(failing bool) {
	i.failing.Store(failing)
}

// SetLatency delays discovery and JWKS responses.
func (i *Issuer) SetLatency(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.latency = d
}

// SetUserInfo sets the profile returned by /userinfo.
func (i *Issuer) SetUserInfo(info map[string]interface{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.userInfo = info
}

// DiscoveryHits returns how many discovery requests were served.
func (i *Issuer) DiscoveryHits() int64 { return i.discoveryHits.Load() }

// JWKSHits returns how many JWKS requests were served.
func (i *Issuer) JWKSHits() int64 { return i.jwksHits.Load() }

// UserInfoHits returns how many /userinfo requests were served.
func (i *Issuer) UserInfoHits() int64 { return i.userInfoHits.Load() }

// CreateToken mints a token valid for one hour with iss, sub, aud, iat and
// exp followed by extra fields.
func (i *Issuer) CreateToken(subject string, extra ...Field) string {
	now := time.Now()
	fields := []Field{
		F("iss", i.Issuer()),
		F("sub", subject),
		F("aud", []string{i.audience}),
		F("iat", now.Unix()),
		F("exp", now.Add(time.Hour).Unix()),
	}
	return i.Sign(append(fields, extra...)...)
}

// Sign mints a token with exactly the given fields, signed by the current key.
func (i *Issuer) Sign(fields ...Field) string {
	return i.SignWithKeyID(i.KeyID(), fields...)
}

// SignWithKeyID signs with the current key but puts kid in the header.
func (i *Issuer) SignWithKeyID(kid string, fields ...Field) string {
	i.mu.Lock()
	private := i.keys[len(i.keys)-1].private
	i.mu.Unlock()

	header := fmt.Sprintf(`{"alg":"RS256","kid":%s,"typ":"JWT"}`, mustJSON(kid))
	signingString := encodeSegment([]byte(header)) + "." + encodeSegment(orderedPayload(fields))

	sig, err := jwt.SigningMethodRS256.Sign(signingString, private)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return signingString + "." + encodeSegment(sig)
}

func orderedPayload(fields []Field) []byte {
	var b strings.Builder
	b.WriteByte('{')
	for n, f := range fields {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(mustJSON(f.Name))
		b.WriteByte(':')
		b.WriteString(mustJSON(f.Value))
	}
	b.WriteByte('}')
	return []byte(b.String())
}

func mustJSON(v interface{}) string {
	out, err := json.Marshal(v)
	if err != nil {
		panic("failed to encode claim: " + err.Error())
	}
	return string(out)
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func (i *Issuer) wait() {
	i.mu.Lock()
	latency := i.latency
	i.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	i.discoveryHits.Add(1)
	i.wait()
	if i.failing.Load() {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":            i.Issuer(),
		"jwks_uri":          i.URL() + JWKSPath,
		"userinfo_endpoint": i.URL() + UserInfoPath,
	})
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	i.jwksHits.Add(1)
	i.wait()
	if i.failing.Load() {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	i.mu.Lock()
	keys := append([]signingKey(nil), i.keys...)
	i.mu.Unlock()

	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.FromRaw(&k.private.PublicKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = key.Set(jwk.KeyIDKey, k.kid)
		_ = key.Set(jwk.AlgorithmKey, jwa.RS256)
		_ = key.Set(jwk.KeyUsageKey, jwk.ForSignature)
		_ = set.AddKey(key)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (i *Issuer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	i.userInfoHits.Add(1)
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	i.mu.Lock()
	info := i.userInfo
	i.mu.Unlock()
	if info == nil {
		info = map[string]interface{}{"sub": "unknown"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
