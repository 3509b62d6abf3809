// Package auth resolves provider credentials and exchanges them for bearer
// tokens with the OAuth2 client-credentials grant.
package auth
