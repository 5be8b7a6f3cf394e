package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const identityKey contextKey = "client_identity"

// SetIdentity records who is calling. Auth sets it for token holders.
func SetIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity returns the authenticated client identity, if any.
func GetIdentity(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(identityKey).(string)
	return id, ok && id != ""
}

// clientKey is the identity when authenticated, else the remote IP.
func clientKey(r *http.Request) string {
	if id, ok := GetIdentity(r); ok {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
