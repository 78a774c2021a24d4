package auth0

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity source labels.
const (
	SourcePrimary = "primary"
)

// SecondarySource labels the identity built from the secondary token at index.
func SecondarySource(index int) string {
	return fmt.Sprintf("secondary[%d]", index)
}

// Claim is a typed assertion from a token. Several claims may share a type.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Identity holds the claims of one validated token in declaration order.
type Identity struct {
	Source string          `json:"source"`
	Claims []Claim         `json:"claims"`
	Token  *ValidatedToken `json:"-"`
}

// FindFirst returns the first claim value of the given type.
func (i *Identity) FindFirst(claimType string) (string, bool) {
	for _, c := range i.Claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

// FindAll returns every value of the given claim type.
func (i *Identity) FindAll(claimType string) []string {
	var values []string
	for _, c := range i.Claims {
		if c.Type == claimType {
			values = append(values, c.Value)
		}
	}
	return values
}

// Name returns the display name of the identity: the name claim when present,
// otherwise the subject.
func (i *Identity) Name() string {
	if name, ok := i.FindFirst("name"); ok && name != "" {
		return name
	}
	sub, _ := i.FindFirst("sub")
	return sub
}

// PrincipalSet is one authenticated caller: the primary identity followed by
// any secondary identities in header order.
type PrincipalSet struct {
	Identities []Identity `json:"identities"`
}

// Primary returns the identity of the bearer token, or nil on an empty set.
func (p *PrincipalSet) Primary() *Identity {
	if p == nil || len(p.Identities) == 0 {
		return nil
	}
	return &p.Identities[0]
}

// Claims flattens the claims of all identities, primary first.
func (p *PrincipalSet) Claims() []Claim {
	if p == nil {
		return nil
	}
	var claims []Claim
	for _, id := range p.Identities {
		claims = append(claims, id.Claims...)
	}
	return claims
}

// ValidatedToken is the raw token that passed validation, retained so callers
// can forward it downstream on the user's behalf.
type ValidatedToken struct {
	Raw       string
	Header    map[string]interface{}
	Claims    jwt.MapClaims
	KeyID     string
	Algorithm string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// extractClaims walks a JSON object payload and emits claims in the order the
// members appear. Arrays produce one claim per element.
func extractClaims(payload []byte) ([]Claim, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("claims payload is not a JSON object")
	}

	var claims []Claim
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		claimType, ok := tok.(string)
		if !ok {
			return nil, errors.New("claim name is not a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

		if len(raw) > 0 && raw[0] == '[' {
			var elems []json.RawMessage
			if err := json.Unmarshal(raw, &elems); err != nil {
				return nil, err
			}
			for _, elem := range elems {
				claims = append(claims, Claim{Type: claimType, Value: claimValue(elem)})
			}
			continue
		}
		claims = append(claims, Claim{Type: claimType, Value: claimValue(raw)})
	}

	return claims, nil
}

// claimValue renders one JSON value as claim text. Strings are unquoted,
// numbers and booleans keep their literal form, null is empty, and objects
// become compact JSON.
func claimValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return string(raw)
		}
		return s
	case 'n':
		return ""
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw)
		}
		return buf.String()
	default:
		return string(raw)
	}
}
