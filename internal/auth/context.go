package auth

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the request's session to the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext extracts the session attached by ContextWithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok && s != nil
}
