package capture

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/snapshot"
	"github.com/sgic-platform/sgic-audit/middleware"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
)

// maxBody is the largest request payload copied into the request context.
const maxBody = 1 << 20

const (
	resourceKey = "audit_resource"
	actionKey   = "audit_action"
	skipKey     = "audit_skip"
)

type resourceRef struct {
	typ string
	id  int64
}

// SetResource names the resource the current request is about, for the
// entry the middleware writes once the handler returns.
func SetResource(c *gin.Context, typ string, id int64) {
	c.Set(resourceKey, resourceRef{typ: typ, id: id})
}

// SetAction overrides the action kind derived from the HTTP method.
func SetAction(c *gin.Context, k model.ActionKind) { c.Set(actionKey, k) }

// Skip stops the middleware from writing an entry for the current request.
func Skip(c *gin.Context) { c.Set(skipKey, true) }

// Middleware attaches an audit.RequestContext to every request and writes
// the entry for non-mutating requests after the handler ran.
func (m *Capture) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		rc := &audit.RequestContext{
			IP:          c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
			Endpoint:    path,
			Method:      c.Request.Method,
			TraceID:     middleware.GetTraceID(c),
			Workstation: c.GetHeader(WorkstationHeader),
			Hostname:    c.GetHeader(HostnameHeader),
		}
		suppressed := m.Suppressed(path)
		action := Classify(c.Request)
		if action.Mutating() {
			rc.MarkDeferred()
		}
		if !suppressed {
			rc.Body = snapshot.Mask(readBody(c.Request), m.svc.Config().MaskPlaceholder)
		}
		c.Request = c.Request.WithContext(audit.WithRequest(c.Request.Context(), rc))

		c.Next()

		if suppressed {
			return
		}
		m.finish(c, rc, action)
	}
}

func (m *Capture) finish(c *gin.Context, rc *audit.RequestContext, action model.ActionKind) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("audit request capture panicked", zap.Any("recover", r))
		}
	}()
	if rc.Recorded() > 0 || c.GetBool(skipKey) {
		return
	}
	if v, ok := c.Get(actionKey); ok {
		action = v.(model.ActionKind)
	}
	status := c.Writer.Status()
	in := audit.Entry{
		Action:        action,
		FrontendRoute: c.GetHeader(FrontendRouteHeader),
		ScreenName:    c.GetHeader(ScreenNameHeader),
	}
	if v, ok := c.Get(resourceKey); ok {
		ref := v.(resourceRef)
		in.ResourceType = ref.typ
		in.ResourceID = &ref.id
	}

	switch {
	case rc.Deferred():
		if status < http.StatusBadRequest {
			return
		}
		in.After = rc.Body
		in.Error = failure(c, status)
	case status >= http.StatusBadRequest:
		if kind, ok := ErrorAction(status); ok {
			in.Action = kind
		}
		in.Error = failure(c, status)
	case action == model.ActionSearch:
		in.After = querySnapshot(c.Request.URL.Query())
	}
	m.svc.Capture(c.Request.Context(), in)
}

// failure is the error recorded for a failed request: the last handler
// error, or the status line.
func failure(c *gin.Context, status int) string {
	if last := c.Errors.Last(); last != nil {
		return last.Error()
	}
	return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
}

// readBody copies a JSON or urlencoded payload and restores the body for
// the handler. Anything else, multipart uploads included, is left alone.
func readBody(r *http.Request) snapshot.Snapshot {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil
	}
	if mt != "application/json" && mt != "application/x-www-form-urlencoded" {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(b), r.Body))
	if err != nil || len(b) == 0 || len(b) > maxBody {
		return nil
	}
	if mt == "application/json" {
		var out map[string]interface{}
		if err := json.Unmarshal(b, &out); err != nil {
			return nil
		}
		return out
	}
	form, err := url.ParseQuery(string(b))
	if err != nil {
		return nil
	}
	return querySnapshot(form)
}

func querySnapshot(v url.Values) snapshot.Snapshot {
	if len(v) == 0 {
		return nil
	}
	out := make(snapshot.Snapshot, len(v))
	for k, vals := range v {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		list := make([]interface{}, len(vals))
		for i, s := range vals {
			list[i] = s
		}
		out[k] = list
	}
	return out
}
