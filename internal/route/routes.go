package route

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgecam/internal/config"
	"edgecam/internal/handler"
	"edgecam/internal/logger"
	"edgecam/internal/middleware"
	"edgecam/internal/service"
	wshub "edgecam/internal/service/websocket"
	"edgecam/internal/telemetry"
)

// ServiceName names the server in traces.
const ServiceName = "edgecam-server"

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}
		if strings.Contains(path, "..") {
			http.NotFound(w, r)
			return
		}

		filePath := filepath.Join(staticDir, filepath.FromSlash(path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// staticHandler serves files below dir but never hidden entries, which
// include in-flight upload temporaries.
func staticHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, segment := range strings.Split(r.URL.Path, "/") {
			if strings.HasPrefix(segment, ".") {
				http.NotFound(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}

// SetupRoutes registers the ingestion, listing, live feed, log and
// operational endpoints.
func SetupRoutes(manager *service.Manager, hub *wshub.HubService, cfg *config.Config, logger *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))
	if cfg.OTLPEndpoint != "" {
		r.Use(telemetry.Middleware(ServiceName))
	}

	// Static files, including stored uploads
	r.Handle("/static/*", http.StripPrefix("/static/", staticHandler(cfg.StaticDirectory)))

	// Ingestion
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Post("/receive", handler.ReceiveImageHandler(manager, cfg, logger))
	})

	// Listing
	images := handler.GetImagesHandler(manager, logger)
	r.Get("/get-images", images)
	r.Get("/uploaded_images", images)
	r.Get("/api/images", images)
	r.Get("/get-days", handler.GetDaysHandler(manager, logger))
	r.Get("/get-images-by-day", handler.GetImagesByDayHandler(manager, logger))
	r.Get("/api/stats", handler.StatsHandler(manager, logger))

	// Live feed
	r.Get("/api/view", handler.ViewWebsocketHandler(hub, logger))

	// Log endpoints
	r.Get("/logs/{level}", handler.ShowLogsHandler(logger))
	r.Post("/logs/{level}/clear", handler.ClearLogsHandler(logger))

	// Operational
	r.Get("/healthz", handler.HealthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Automatic HTML handler mapping for example: /gallery -> /static/gallery.html
	r.Get("/*", dynamicHTMLHandler(cfg.StaticDirectory))

	return r
}
