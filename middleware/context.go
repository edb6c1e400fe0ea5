package middleware

import (
	"context"
	"errors"
	"net/http"

	appctx "github.com/veracred/zcap-go/context"
	"github.com/veracred/zcap-go/zcapld"
)

type zcapInvocationCTXKey struct{}

type zcapRevocationCTXKey struct{}

// AddInvocation attaches a verified invocation result to the context.
// Helpful for test cases
func AddInvocation(ctx context.Context, result *zcapld.InvocationResult) context.Context {
	return context.WithValue(ctx, zcapInvocationCTXKey{}, result)
}

// GetInvocation retrieves the verified invocation result from the context
func GetInvocation(ctx context.Context) (*zcapld.InvocationResult, error) {
	result, ok := ctx.Value(zcapInvocationCTXKey{}).(*zcapld.InvocationResult)
	if !ok {
		return nil, errors.New("invocation result was missing from context")
	}
	return result, nil
}

// AddRevocation attaches a verified revocation context to the context
func AddRevocation(ctx context.Context, revocation *zcapld.RevocationContext) context.Context {
	return context.WithValue(ctx, zcapRevocationCTXKey{}, revocation)
}

// GetRevocation retrieves the verified revocation context from the context
func GetRevocation(ctx context.Context) (*zcapld.RevocationContext, error) {
	revocation, ok := ctx.Value(zcapRevocationCTXKey{}).(*zcapld.RevocationContext)
	if !ok {
		return nil, errors.New("revocation context was missing from context")
	}
	return revocation, nil
}

// NewServiceCtx passes a service into the context
func NewServiceCtx(service interface{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), appctx.ServiceKey, service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
