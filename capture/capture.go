// Package capture decides what each HTTP request and each persisted
// mutation contributes to the audit trail, and hands it to audit.Service.
//
// Mutating requests (POST, PUT, PATCH, DELETE) are deferred: the row is
// written by the persistence layer through MutationObserver so it can carry
// the before and after snapshots. The middleware only writes for them when
// the request failed before any mutation was reported.
package capture

import (
	"context"
	"strings"

	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
)

// Request headers the SGIC front end sends with every call.
const (
	WorkstationHeader   = "X-Workstation-Name"
	HostnameHeader      = "X-Hostname"
	FrontendRouteHeader = "X-Frontend-Route"
	ScreenNameHeader    = "X-Screen-Name"
)

// UserLookup loads the agent behind an authenticated user id.
type UserLookup func(ctx context.Context, id int64) (*model.User, error)

// Capture is the request and mutation side of the audit trail.
type Capture struct {
	svc        *audit.Service
	users      UserLookup
	logger     *zap.Logger
	suppressed []string
}

// New creates a Capture writing through svc.
func New(svc *audit.Service, users UserLookup, logger *zap.Logger) *Capture {
	return &Capture{
		svc:        svc,
		users:      users,
		logger:     logger,
		suppressed: svc.Config().SuppressedPaths,
	}
}

// Service returns the audit service entries are written to.
func (m *Capture) Service() *audit.Service { return m.svc }

// Suppressed reports whether requests to path are never logged. An entry
// ending in "/" matches every path under it; other entries match the path
// itself and its sub-paths.
func (m *Capture) Suppressed(path string) bool {
	for _, p := range m.suppressed {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
