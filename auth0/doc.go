// Package auth0 authenticates bearer tokens issued by an Auth0 tenant (or
// any OpenID Connect provider).
//
// A KeySource caches the provider's discovery metadata and JSON Web Key Set,
// a Validator checks a single token against that configuration, and an
// Authenticator combines a primary token with optional secondary tokens into
// a PrincipalSet. Every failure leaving the Authenticator is an *AuthError.
package auth0
