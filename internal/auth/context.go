// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"
)

type originContextKey struct{}

var ctxOriginKey originContextKey

// WithOrigin stores the caller's declared origin on the request context so
// the origin middleware and the match handler agree on one value.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, ctxOriginKey, origin)
}

// OriginFromContext reads the caller origin from context.
func OriginFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxOriginKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
