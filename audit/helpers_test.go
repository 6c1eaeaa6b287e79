package audit

import (
	"context"
	"testing"
	"time"

	"github.com/sgic-platform/sgic-audit/config"
	"github.com/sgic-platform/sgic-audit/model"
	"github.com/sgic-platform/sgic-audit/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const firefoxUA = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, opts ...Option) (*Service, *gorm.DB, *clock) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	clk := &clock{t: time.Date(2026, 3, 9, 14, 5, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now), WithPubSub(ps)}, opts...)
	return New(db, c, config.DefaultAudit(), zap.NewNop(), opts...), db, clk
}

func actorFor(u *model.User) *Actor { return ActorOf(u) }

func requestCtx(actor *Actor, method, endpoint string) (context.Context, *RequestContext) {
	rc := &RequestContext{
		Actor:     actor,
		IP:        "10.0.0.5",
		UserAgent: firefoxUA,
		Endpoint:  endpoint,
		Method:    method,
		TraceID:   "trace-1",
	}
	return WithRequest(context.Background(), rc), rc
}

func ptr(v int64) *int64 { return &v }
