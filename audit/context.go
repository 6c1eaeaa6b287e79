package audit

import (
	"context"
	"sync"

	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/model"
)

// Actor is the authenticated agent behind an action, as known when the
// action is captured.
type Actor struct {
	ID       int64
	Username string
	Name     string // display name, "First LAST"
	LastName string
	Role     string
}

// ActorOf builds the actor facts recorded for u.
func ActorOf(u *model.User) *Actor {
	if u == nil {
		return nil
	}
	return &Actor{ID: u.ID, Username: u.Username, Name: u.FullName(), LastName: u.LastName, Role: u.Role}
}

// RequestContext carries everything the capture path needs to know about
// the current request. It is built by the capture middleware and travels in
// the request's context.Context; it dies with the request.
type RequestContext struct {
	Actor        *Actor
	SessionID    *int64
	SessionToken string
	IP           string
	UserAgent    string
	Endpoint     string
	Method       string
	TraceID      string
	Workstation  string
	Hostname     string
	// Body is the masked request payload, when it was JSON or a form.
	Body snapshot.Snapshot

	mu       sync.Mutex
	deferred bool
	recorded int
}

// MarkDeferred flags the request as a mutation whose entry is written by
// the persistence layer rather than by the middleware.
func (r *RequestContext) MarkDeferred() {
	r.mu.Lock()
	r.deferred = true
	r.mu.Unlock()
}

// Deferred reports whether MarkDeferred was called.
func (r *RequestContext) Deferred() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferred
}

// MarkRecorded notes that an entry was written for this request.
func (r *RequestContext) MarkRecorded() {
	r.mu.Lock()
	r.recorded++
	r.mu.Unlock()
}

// Recorded reports how many entries were written for this request.
func (r *RequestContext) Recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded
}

// SetSession attaches the open session once it is known.
func (r *RequestContext) SetSession(id int64, token string) {
	r.mu.Lock()
	r.SessionID = &id
	r.SessionToken = token
	r.mu.Unlock()
}

// Session returns the attached session id, if any.
func (r *RequestContext) Session() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SessionID == nil {
		return 0, false
	}
	return *r.SessionID, true
}

type ctxKey struct{}

// WithRequest returns a copy of ctx carrying rc.
func WithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the request context, or nil outside a request.
func FromContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}
