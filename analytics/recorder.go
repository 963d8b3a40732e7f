package analytics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Recorder turns successful public page responses into stored views.
type Recorder struct {
	store    *Store
	salt     string
	siteHost string
	limiter  *rateLimiter
	log      *zap.Logger
	now      func() time.Time
}

// NewRecorder loads the hashing salt and returns a Recorder. siteHost is the
// public host name used to recognise internal referrers.
func NewRecorder(ctx context.Context, store *Store, siteHost string, log *zap.Logger) (*Recorder, error) {
	salt, err := store.Salt(ctx)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		store:    store,
		salt:     salt,
		siteHost: siteHost,
		limiter:  newRateLimiter(30, time.Minute),
		log:      log,
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source. Tests use it.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
	r.limiter.now = now
}

// Close stops the rate limiter.
func (r *Recorder) Close() {
	r.limiter.close()
}

// Record stores one view of path. Requests with DNT: 1 are ignored.
func (r *Recorder) Record(ctx context.Context, req *http.Request, ip, path string) {
	if req.Header.Get("DNT") == "1" {
		return
	}
	ua := req.UserAgent()
	ts := r.now().UTC()

	if IsBot(ua) {
		if err := r.store.SaveBotView(ctx, BotView{BotName: BotName(ua), Path: path, Timestamp: ts}); err != nil {
			r.log.Warn("save bot view failed", zap.Error(err))
		}
		return
	}

	id := visitorID(r.salt, ip, ua)
	if !r.limiter.allow(id) {
		return
	}
	browser, os, device := ParseUserAgent(ua)
	v := View{
		VisitorID: id,
		Browser:   browser,
		OS:        os,
		Device:    device,
		Path:      path,
		Referrer:  CleanReferrer(req.Referer(), r.siteHost),
		Timestamp: ts,
	}
	if err := r.store.SaveView(ctx, v); err != nil {
		r.log.Warn("save view failed", zap.Error(err))
	}
}

// Middleware records every GET that the wrapped handler answers with a 200
// HTML page.
func (r *Recorder) Middleware(skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				return err
			}
			if skipper(c) || c.Request().Method != http.MethodGet {
				return nil
			}
			res := c.Response()
			if res.Status != http.StatusOK || !strings.HasPrefix(res.Header().Get(echo.HeaderContentType), echo.MIMETextHTML) {
				return nil
			}
			r.Record(c.Request().Context(), c.Request(), c.RealIP(), c.Request().URL.Path)
			return nil
		}
	}
}

// Period is a named reporting window.
type Period struct {
	Name  string
	Label string
	Days  int
}

// Periods lists the windows offered on the stats screen.
var Periods = []Period{
	{"week", "7 days", 7},
	{"month", "30 days", 30},
	{"quarter", "90 days", 90},
}

// ParsePeriod returns the named period, defaulting to the first.
func ParsePeriod(name string) Period {
	for _, p := range Periods {
		if p.Name == name {
			return p
		}
	}
	return Periods[0]
}

// Range returns [from, to) covering the period's days up to and including
// the day of now.
func (p Period) Range(now time.Time) (time.Time, time.Time) {
	to := Day(now.UTC()).AddDate(0, 0, 1)
	return to.AddDate(0, 0, -p.Days), to
}
