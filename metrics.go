package pressli

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the app's collectors. Each App has its own registry so
// several apps (tests) can live in one process.
type metrics struct {
	registry *prometheus.Registry

	logins      *prometheus.CounterVec
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
	saves       *prometheus.CounterVec
	packages    *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pressli_login_attempts_total",
			Help: "Admin login attempts by result",
		}, []string{"result"}),
		uploads: f.NewCounter(prometheus.CounterOpts{
			Name: "pressli_media_uploads_total",
			Help: "Files added to the media library",
		}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "pressli_media_upload_bytes_total",
			Help: "Bytes added to the media library",
		}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pressli_content_saves_total",
			Help: "Posts and pages saved from the admin panel",
		}, []string{"type"}),
		packages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pressli_package_installs_total",
			Help: "Theme, plugin and core packages installed by kind and result",
		}, []string{"kind", "result"}),
	}
}

func (m *metrics) middleware() echo.MiddlewareFunc {
	return echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "pressli",
		Registerer: m.registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/admin/metrics/" || c.Path() == "/public*"
		},
	})
}

func (m *metrics) handler() echo.HandlerFunc {
	return echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: m.registry})
}

func (m *metrics) pkg(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.packages.WithLabelValues(kind, result).Inc()
}
