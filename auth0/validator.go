package auth0

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/auth0-gateway/utils"
)

// Policy is the fixed set of rules every token must satisfy.
type Policy struct {
	Issuer            string        `validate:"required,url"`
	Audiences         []string      `validate:"required,min=1,dive,required"`
	AllowedAlgorithms []string      `validate:"dive,required"`
	Leeway            time.Duration `validate:"gte=0"`
}

// Validator checks one compact JWT against a Policy and a SigningKeyConfig.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	policy    Policy
	audiences map[string]struct{}
	parser    *jwt.Parser
}

// NewValidator creates a Validator. RS256 is the only algorithm allowed when
// AllowedAlgorithms is empty.
func NewValidator(policy Policy) (*Validator, error) {
	if err := utils.ValidateStruct(&policy); err != nil {
		return nil, fmt.Errorf("invalid validation policy: %w", err)
	}
	if len(policy.AllowedAlgorithms) == 0 {
		policy.AllowedAlgorithms = []string{jwt.SigningMethodRS256.Alg()}
	}

	audiences := make(map[string]struct{}, len(policy.Audiences))
	for _, aud := range policy.Audiences {
		audiences[aud] = struct{}{}
	}

	return &Validator{
		policy:    policy,
		audiences: audiences,
		parser: jwt.NewParser(
			jwt.WithValidMethods(policy.AllowedAlgorithms),
			jwt.WithoutClaimsValidation(),
			jwt.WithJSONNumber(),
		),
	}, nil
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate checks, in order: structure, key id, signature, issuer, audience,
// then expiry and not-before. The first failing check decides the
// ValidationError kind. The returned Identity has no Source; callers label it.
func (v *Validator) Validate(token string, cfg *SigningKeyConfig, now time.Time) (*Identity, *ValidatedToken, error) {
	if cfg == nil {
		return nil, nil, errors.New("signing key configuration is required")
	}

	claims := jwt.MapClaims{}
	parsed, parts, err := v.parser.ParseUnverified(token, claims)
	if err != nil && (parsed == nil || !errors.Is(err, jwt.ErrTokenUnverifiable)) {
		return nil, nil, newValidationError(KindMalformed, "cannot parse token", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, nil, newValidationError(KindMalformed, "invalid exp claim", err)
	}
	if exp == nil {
		return nil, nil, newValidationError(KindMalformed, "missing exp claim", nil)
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, nil, newValidationError(KindMalformed, "invalid nbf claim", err)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, nil, newValidationError(KindMalformed, "invalid iat claim", err)
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, nil, newValidationError(KindMalformed, "invalid aud claim", err)
	}

	kid, _ := parsed.Header["kid"].(string)
	key, ok := cfg.Key(kid)
	if !ok {
		return nil, nil, newValidationError(KindUnknownKey, fmt.Sprintf("no signing key with kid %q", kid), nil)
	}

	alg, _ := parsed.Header["alg"].(string)
	if key.Algorithm != "" && key.Algorithm != alg {
		return nil, nil, newValidationError(KindBadSignature,
			fmt.Sprintf("token alg %q does not match key alg %q", alg, key.Algorithm), nil)
	}
	if _, err := v.parser.ParseWithClaims(token, jwt.MapClaims{}, func(*jwt.Token) (interface{}, error) {
		return key.Key, nil
	}); err != nil {
		return nil, nil, newValidationError(KindBadSignature, "signature verification failed", err)
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != v.policy.Issuer {
		return nil, nil, newValidationError(KindBadIssuer, fmt.Sprintf("unexpected issuer %q", iss), err)
	}

	if !v.audienceAccepted(aud) {
		return nil, nil, newValidationError(KindBadAudience, fmt.Sprintf("no accepted audience in %v", []string(aud)), nil)
	}

	if !now.Before(exp.Add(v.policy.Leeway)) {
		return nil, nil, newValidationError(KindExpired, fmt.Sprintf("token expired at %s", exp.UTC().Format(time.RFC3339)), nil)
	}
	if nbf != nil && now.Add(v.policy.Leeway).Before(nbf.Time) {
		return nil, nil, newValidationError(KindNotYetValid, fmt.Sprintf("token not valid before %s", nbf.UTC().Format(time.RFC3339)), nil)
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, nil, newValidationError(KindMalformed, "cannot decode claims", err)
	}
	ordered, err := extractClaims(payload)
	if err != nil {
		return nil, nil, newValidationError(KindMalformed, "cannot read claims", err)
	}

	sub, _ := claims.GetSubject()
	validated := &ValidatedToken{
		Raw:       token,
		Header:    parsed.Header,
		Claims:    claims,
		KeyID:     kid,
		Algorithm: alg,
		Subject:   sub,
		Audience:  []string(aud),
		ExpiresAt: exp.Time,
	}
	if iat != nil {
		validated.IssuedAt = iat.Time
	}

	return &Identity{Claims: ordered, Token: validated}, validated, nil
}

func (v *Validator) audienceAccepted(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if _, ok := v.audiences[a]; ok {
			return true
		}
	}
	return false
}

func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}
