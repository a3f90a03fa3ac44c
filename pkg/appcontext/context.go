// Package appcontext provides utility functions for working with context in the application.

package appcontext

import "context"

type contextKey string

// String returns the string representation of the context key.
func (c contextKey) String() string {
	return string(c)
}

var (
	// ContextAuthToken represents the context key for the authorization token.
	ContextAuthToken = contextKey("authToken")
	// ContextBusinessID represents the context key for the tenant identifier.
	ContextBusinessID = contextKey("businessID")
)

// WithAuthToken returns a new context carrying the provided authorization token.
func WithAuthToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextAuthToken, token)
}

// GetAuthToken retrieves the authorization token from the context.
func GetAuthToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ContextAuthToken).(string)
	return token, ok
}

// WithBusinessID returns a new context carrying the tenant identifier.
func WithBusinessID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextBusinessID, id)
}

// GetBusinessID retrieves the tenant identifier from the context.
func GetBusinessID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextBusinessID).(string)
	return id, ok
}
