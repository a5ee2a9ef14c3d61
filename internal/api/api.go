package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/celerix-dev/celerix-expenses/internal/auth"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/internal/intake"
	"github.com/celerix-dev/celerix-expenses/internal/report"
	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

type Handler struct {
	Repo         *engine.Repository
	Blobs        blob.Store
	Intake       *intake.Service
	Tokens       *auth.TokenService
	PasswordHash string
	SecureCookie bool
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// fail maps repository errors onto HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "submission not found"})
	case errors.Is(err, engine.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger().Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) Submit(c *gin.Context) {
	if h.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
	}

	var req intake.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "submission too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Intake.Submit(c.Request.Context(), req)
	if err != nil {
		h.logger().Error("submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"id":             res.ID,
		"timestamp":      res.Timestamp,
		"total":          res.Total,
		"failedReceipts": res.FailedReceipts,
	})
}

func (h *Handler) Health(c *gin.Context) {
	blobs, err := h.Blobs.List(c.Request.Context(), "")
	if err != nil {
		h.logger().Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "blobCount": len(blobs)})
}

// Login accepts a JSON body or a posted form. Form posts come from the
// browser login page and are answered with redirects.
func (h *Handler) Login(c *gin.Context) {
	var input struct {
		Password string `json:"password" form:"password" binding:"required"`
	}
	fromForm := c.ContentType() == binding.MIMEPOSTForm

	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.Tokens.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login is not configured"})
		return
	}
	if !auth.CheckPassword(h.PasswordHash, input.Password) {
		h.logger().Warn("admin login rejected", "client_ip", c.ClientIP())
		if fromForm {
			c.Redirect(http.StatusSeeOther, "/login?error=1")
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, claims, err := h.Tokens.Issue(auth.Claims{Subject: "admin"})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, token, int(h.Tokens.TTL().Seconds()), "/", "", h.SecureCookie, true)

	if fromForm {
		c.Redirect(http.StatusSeeOther, "/admin")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "expiresAt": claims.Expiry()})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.SecureCookie, true)
	if c.Request.Method == http.MethodGet {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) ListSubmissions(c *gin.Context) {
	var input struct {
		Sort    string `form:"sort" binding:"omitempty,oneof=recent name date"`
		Search  string `form:"q"`
		Page    int    `form:"page" binding:"omitempty,min=1"`
		PerPage int    `form:"per_page" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindQuery(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := h.Repo.List(c.Request.Context(), engine.Query{
		Sort:    input.Sort,
		Search:  input.Search,
		Page:    input.Page,
		PerPage: input.PerPage,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) Summaries(c *gin.Context) {
	var input struct {
		Limit  int `form:"limit"`
		Offset int `form:"offset"`
	}
	if err := c.ShouldBindQuery(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.Repo.LoadPage(c.Request.Context(), input.Limit, input.Offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetSubmission(c *gin.Context) {
	s, err := h.Repo.LoadOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) UpdateReimbursed(c *gin.Context) {
	var input struct {
		ID         string `json:"id" binding:"required"`
		Reimbursed *bool  `json:"reimbursed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.Repo.UpdateReimbursed(c.Request.Context(), input.ID, *input.Reimbursed)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "submission": s.Summarize()})
}

func (h *Handler) DeleteSubmission(c *gin.Context) {
	if err := h.Repo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) PDF(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "submission id required"})
		return
	}
	s, err := h.Repo.LoadOne(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	body, err := report.RenderBytes(s)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(s.ID)))
	c.Data(http.StatusOK, report.ContentType, body)
}

func (h *Handler) Reindex(c *gin.Context) {
	res, err := h.Repo.Reindex(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Migrate(c *gin.Context) {
	res, err := h.Repo.Migrate(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ServeBlob streams a stored receipt for backends whose URLs point back at the daemon.
func (h *Handler) ServeBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	ctx := c.Request.Context()

	body, err := h.Blobs.Fetch(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := http.DetectContentType(body)
	if listed, err := h.Blobs.List(ctx, key); err == nil {
		if b, ok := blob.Find(listed, key); ok && b.ContentType != "" {
			contentType = b.ContentType
		}
	}
	c.Data(http.StatusOK, contentType, body)
}
