// Package contextkey defines the keys under which request-scoped identity
// data is stored in a request's context.
package contextkey

// Key is the dedicated type for context keys in this module, so values set
// here cannot collide with keys from other packages.
type Key string

// UserIDKey holds the authenticated user's identity claim.
const UserIDKey Key = "userID"

// JwtErrorKey holds any error encountered while parsing the bearer token.
const JwtErrorKey Key = "jwtError"
