package pressli

import (
	"github.com/labstack/echo/v4"

	"github.com/pressli/pressli/analytics"
)

type statsData struct {
	Enabled bool
	Period  analytics.Period
	Periods []analytics.Period
	Summary *analytics.Summary
}

// handleStats shows page views for the selected period. AJAX callers get the
// summary as JSON.
func (a *App) handleStats(c echo.Context) error {
	period := analytics.ParsePeriod(c.QueryParam("period"))
	d := statsData{Enabled: a.Analytics != nil, Period: period, Periods: analytics.Periods}
	if a.Analytics != nil {
		from, to := period.Range(a.now())
		sum, err := a.Analytics.Summary(c.Request().Context(), from, to, 10)
		if err != nil {
			return err
		}
		d.Summary = sum
	}
	if wantsJSON(c) {
		if !d.Enabled {
			return a.failJSON(c, NotFound("Analytics data"))
		}
		return ok(c, "", d.Summary)
	}
	return a.renderAdmin(c, "stats", "Stats", "stats", d)
}
