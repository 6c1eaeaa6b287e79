package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/narrative"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
)

// AuditHandler serves the audit trail: frontend signals, listings,
// statistics and narrative reports.
type AuditHandler struct {
	svc    *audit.Service
	cache  cache.Cache
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *audit.Service, c cache.Cache, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, cache: c, logger: logger}
}

// navPending holds a navigation key while its entry is being written.
const navPending = "pending"

func navigationKey(actorID int64, route string) string {
	return "audit:nav:" + strconv.FormatInt(actorID, 10) + ":" + route
}

type navigationRequest struct {
	Route      string `json:"route"       binding:"required,max=255"`
	ScreenName string `json:"screen_name" binding:"max=128"`
	Action     string `json:"action"`
}

// LogNavigation handles POST /api/audit/log-navigation. A navigation to the
// same route by the same agent within the navigation window returns the
// earlier entry instead of writing a new one.
func (h *AuditHandler) LogNavigation(c *gin.Context) {
	var req navigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	rc := audit.FromContext(ctx)
	key := navigationKey(rc.Actor.ID, req.Route)

	window := h.svc.Config().NavigationDedupWindow

	// reserve the key first so concurrent reports of one route write once
	reserved := false
	if h.cache != nil {
		ok, err := h.cache.SetNX(ctx, key, navPending, window)
		switch {
		case err != nil:
			h.logger.Warn("navigation dedup reserve failed", zap.Error(err))
		case !ok:
			v, err := h.cache.Get(ctx, key)
			if err != nil && !cache.IsNotFound(err) {
				h.logger.Warn("navigation dedup lookup failed", zap.Error(err))
			}
			id, _ := strconv.ParseInt(v, 10, 64)
			c.JSON(http.StatusOK, gin.H{"id": id, "duplicate": true})
			return
		default:
			reserved = true
		}
	}

	in := audit.Entry{
		Action:        model.ActionNavigation,
		FrontendRoute: req.Route,
		ScreenName:    req.ScreenName,
	}
	if req.Action != "" {
		in.After = snapshot.Snapshot{"action": req.Action}
	}
	e := h.svc.Capture(ctx, in)
	if e == nil {
		if reserved {
			if err := h.cache.Del(ctx, key); err != nil {
				h.logger.Warn("navigation dedup release failed", zap.Error(err))
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "navigation not recorded"})
		return
	}
	if reserved {
		if err := h.cache.Set(ctx, key, strconv.FormatInt(e.ID, 10), window); err != nil {
			h.logger.Warn("navigation dedup store failed", zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, gin.H{"id": e.ID, "duplicate": false})
}

type narrativeRequest struct {
	ActionType string `json:"action_type" binding:"required,max=64"`
	Details    string `json:"details"     binding:"max=2000"`
}

// LogActionNarrative handles POST /api/audit/log-action-narrative.
func (h *AuditHandler) LogActionNarrative(c *gin.Context) {
	var req narrativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	sessionID, ok := audit.FromContext(ctx).Session()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no open session"})
		return
	}
	if err := h.svc.Enrich(ctx, sessionID, req.ActionType, req.Details); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// scope restricts f to the requester's own entries unless privileged.
func (h *AuditHandler) scope(c *gin.Context, f *audit.Filter) {
	actor := audit.FromContext(c.Request.Context()).Actor
	if h.svc.Privileged(actor.Role) {
		return
	}
	id := actor.ID
	f.ActorID = &id
}

func (h *AuditHandler) filter(c *gin.Context) (audit.Filter, error) {
	f := audit.Filter{
		Action:       model.ActionKind(strings.ToUpper(c.Query("action"))),
		ResourceType: c.Query("resource_type"),
		Page:         queryInt(c, "page"),
		PageSize:     queryInt(c, "page_size"),
	}
	if f.Action != "" && !f.Action.Valid() {
		return f, errors.New("unknown action " + string(f.Action))
	}
	for name, dst := range map[string]**int64{
		"actor_id":    &f.ActorID,
		"resource_id": &f.ResourceID,
		"session_id":  &f.SessionID,
	} {
		if v := c.Query(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, errors.New("invalid " + name)
			}
			*dst = &n
		}
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.Query(name); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return f, errors.New("invalid " + name)
			}
			*dst = &t
		}
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("invalid success")
		}
		f.Success = &b
	}
	h.scope(c, &f)
	return f, nil
}

// parseTime accepts RFC 3339 or a plain date.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// List handles GET /api/audit.
func (h *AuditHandler) List(c *gin.Context) {
	f, err := h.filter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	entries, total, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// Sessions handles GET /api/audit/sessions.
func (h *AuditHandler) Sessions(c *gin.Context) {
	f, err := h.filter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	all, err := h.svc.SessionSummaries(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	lo := (page - 1) * size
	if lo > len(all) {
		lo = len(all)
	}
	hi := lo + size
	if hi > len(all) {
		hi = len(all)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": all[lo:hi], "total": len(all)})
}

// Statistics handles GET /api/audit/statistiques.
func (h *AuditHandler) Statistics(c *gin.Context) {
	f, err := h.filter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.Statistics(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func workstation(c *gin.Context) narrative.Workstation {
	return narrative.Workstation{
		Name:     c.GetHeader(capture.WorkstationHeader),
		Hostname: c.GetHeader(capture.HostnameHeader),
	}
}

func wantsJSON(c *gin.Context) bool {
	return c.Query("format") == "json"
}

// visible reports whether the requester may read e.
func (h *AuditHandler) visible(c *gin.Context, e *model.EventLog) bool {
	actor := audit.FromContext(c.Request.Context()).Actor
	return h.svc.Privileged(actor.Role) || (e.ActorID != nil && *e.ActorID == actor.ID)
}

// NarrativeReport handles GET /api/audit/:id/narrative-report.
func (h *AuditHandler) NarrativeReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	e, report, err := h.svc.EntryReport(c.Request.Context(), id, workstation(c))
	if err == nil && !h.visible(c, e) {
		err = audit.ErrNotFound
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"id": e.ID, "reference": e.Reference, "report": report})
		return
	}
	c.String(http.StatusOK, report)
}

// NarrativeReports handles GET /api/audit/narrative-reports, for either
// ?ids=1,2,3 or ?session_id=session_<actor>_<unix>.
func (h *AuditHandler) NarrativeReports(c *gin.Context) {
	ctx := c.Request.Context()
	var f audit.Filter
	h.scope(c, &f)

	var (
		report string
		count  int
		err    error
	)
	switch {
	case c.Query("session_id") != "":
		merged, r, e := h.svc.SessionReport(ctx, c.Query("session_id"), f, workstation(c))
		report, count, err = r, len(merged), e
	case c.Query("ids") != "":
		ids, perr := parseIDs(c.Query("ids"))
		if perr != nil {
			badRequest(c, perr)
			return
		}
		merged, r, e := h.svc.EntriesReport(ctx, ids, workstation(c))
		if e == nil && f.ActorID != nil {
			for i := range merged {
				if !h.visible(c, &merged[i].EventLog) {
					e = audit.ErrNotFound
					break
				}
			}
		}
		report, count, err = r, len(merged), e
	default:
		badRequest(c, errors.New("ids or session_id required"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"entries": count, "report": report})
		return
	}
	c.String(http.StatusOK, report)
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("invalid id " + p)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("ids required")
	}
	return ids, nil
}

// Journal handles GET /api/audit/journals/:session_id.
func (h *AuditHandler) Journal(c *gin.Context) {
	id, ok := paramID(c, "session_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	j, err := h.svc.Journal(ctx, id)
	if err == nil {
		actor := audit.FromContext(ctx).Actor
		if !h.svc.Privileged(actor.Role) && (j.ActorID == nil || *j.ActorID != actor.ID) {
			err = audit.ErrNotFound
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type annotateRequest struct {
	FrontendRoute *string `json:"frontend_route"`
	ScreenName    *string `json:"screen_name"`
}

// Annotate handles PATCH /api/audit/:id. Only the technical route fields
// may change; any other key in the body is ignored and logged.
func (h *AuditHandler) Annotate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	// no entry of its own: annotating must not grow the trail
	capture.Skip(c)
	applied, err := h.svc.Annotate(c.Request.Context(), id, body)
	if err != nil {
		respondError(c, err)
		return
	}
	if applied == nil {
		applied = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "applied": applied})
}

// ClearAll handles DELETE|POST /api/audit/clear-all. The purge itself is
// recorded as the first entry of the new trail.
func (h *AuditHandler) ClearAll(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.svc.Purge(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	h.svc.Capture(ctx, audit.Entry{
		Action:      model.ActionDelete,
		ObjectType:  "audit_event_logs",
		ObjectID:    "*",
		Before:      snapshot.Snapshot{"entries": n},
		Description: "Purge complète du journal d'audit (" + strconv.FormatInt(n, 10) + " entrées supprimées).",
	})
	h.logger.Warn("audit trail purged", zap.Int64("entries", n))
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
