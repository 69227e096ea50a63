package session

import "context"

type sessionContextKey struct{}

type tokenContextKey struct{}

// ContextWithSession stores the validated session and its bearer token in context.
func ContextWithSession(ctx context.Context, sess Session, token string) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey{}, sess)
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// FromContext extracts the session from context.
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	return sess, ok
}

// TokenFromContext returns the bearer token that authenticated the request.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}
