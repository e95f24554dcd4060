package types

import "context"

// ActorSource distinguishes how a request was authenticated.
type ActorSource string

const (
	ActorSourceAPIToken ActorSource = "api_token"
	ActorSourceSystem   ActorSource = "system"
)

// Actor identifies the authenticated principal for a request.
type Actor struct {
	// ID is the identifier of the credential (token ID), not the customer.
	ID string
	// CustomerID is the customer the credential is scoped to.
	CustomerID string
	Source     ActorSource
}

type contextKey string

const (
	actorContextKey     contextKey = "actor"
	requestIDContextKey contextKey = "request_id"
)

// WithActor returns a context carrying the authenticated actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// GetActor returns the authenticated actor, or nil for unauthenticated requests.
func GetActor(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey).(*Actor)
	return actor
}

// WithRequestID returns a context carrying the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// GetRequestID returns the request correlation ID, or "" if absent.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
