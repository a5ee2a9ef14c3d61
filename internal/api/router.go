package api

import (
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigin string
	StaticDir  string       // built frontend; empty disables UI serving
	Metrics    http.Handler // defaults to promhttp.Handler()
}

// NewRouter mounts every route on a gin engine.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}

	r := gin.Default()
	r.Use(Instrument(), CORS(opts.CORSOrigin))

	r.GET("/metrics", gin.WrapH(opts.Metrics))
	r.GET("/logout", h.Logout)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", h.Health)
		apiGroup.POST("/submit", h.Submit)
		apiGroup.POST("/login", h.Login)
		apiGroup.POST("/logout", h.Logout)
	}

	admin := r.Group("/", RequireAdmin(h.Tokens))
	{
		admin.GET("/api/admin/submissions", h.ListSubmissions)
		admin.GET("/api/admin/summaries", h.Summaries)
		admin.DELETE("/api/admin/submissions/:id", h.DeleteSubmission)
		admin.POST("/api/admin/reindex", h.Reindex)
		admin.POST("/api/admin/migrate", h.Migrate)
		admin.GET("/api/submission/:id", h.GetSubmission)
		admin.POST("/api/update-reimbursed", h.UpdateReimbursed)
		admin.GET("/api/pdf", h.PDF)
		admin.GET(strings.TrimSuffix(blobstore.ServePrefix, "/")+"/*key", h.ServeBlob)
	}

	var ui fs.FS
	if opts.StaticDir != "" {
		ui = os.DirFS(opts.StaticDir)
	}
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api") || ui == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
			return
		}
		file, err := ui.Open(strings.TrimPrefix(path, "/"))
		if err == nil {
			file.Close()
			http.FileServer(http.FS(ui)).ServeHTTP(c.Writer, c.Request)
			return
		}
		// Client-side routes fall back to the SPA entry point.
		c.FileFromFS("/", http.FS(ui))
	})

	return r
}
