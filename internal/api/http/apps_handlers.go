package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// ListApps lists the records of one kind, newest first
func (h *Handlers) ListApps(c *gin.Context) {
	kind, err := types.ParseKind(c.Query("kind"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	apps, err := h.registry.List(c.Request.Context(), kind)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":  kind,
		"apps":  apps,
		"count": len(apps),
	})
}

// GetApp returns one record with the size of its directory
func (h *Handlers) GetApp(c *gin.Context) {
	rec, err := h.registry.Details(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetIcon serves the icon image, or 204 when the application has none
func (h *Handlers) GetIcon(c *gin.Context) {
	icon, err := h.registry.Icon(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if icon == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(icon).String(), icon)
}

// ExportApp streams the application directory as a tar.zst archive
func (h *Handlers) ExportApp(c *gin.Context) {
	appID := c.Param("id")
	w := &lazyWriter{c: c, filename: appID + ".tar.zst"}

	if err := h.registry.Export(c.Request.Context(), appID, w); err != nil {
		if !w.started {
			respondError(c, err)
			return
		}
		// Headers are gone; all that is left is to cut the stream short
		h.logger.Error("Export aborted mid-stream", zap.String("id", appID), zap.Error(err))
		_ = c.Error(err)
		c.Abort()
		return
	}
	if !w.started {
		w.start()
	}
}

// lazyWriter defers response headers until the first byte so errors raised
// before any output still get a proper status.
type lazyWriter struct {
	c        *gin.Context
	filename string
	started  bool
}

func (w *lazyWriter) start() {
	w.started = true
	w.c.Header("Content-Type", "application/zstd")
	w.c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", w.filename))
	w.c.Status(http.StatusOK)
}

func (w *lazyWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.start()
	}
	return w.c.Writer.Write(p)
}

// CreateApp commits an uploaded bundle.
//
// The request is multipart: a "bundle" file, an optional "icon" file and the
// form fields kind, name, bundle_identifier and version.
func (h *Handlers) CreateApp(c *gin.Context) {
	if h.maxUpload > 0 {
		if c.Request.ContentLength > h.maxUpload {
			h.uploadTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.uploadTooLarge(c)
			return
		}
		badRequest(c, "expected a multipart form: "+err.Error())
		return
	}

	kind, err := types.ParseKind(c.PostForm("kind"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	bundleHeader, err := c.FormFile("bundle")
	if err != nil {
		badRequest(c, "bundle file is required")
		return
	}
	bundle, err := bundleHeader.Open()
	if err != nil {
		respondError(c, apperrors.IO("open uploaded bundle", err))
		return
	}
	defer bundle.Close()

	meta := types.Metadata{
		Kind:             kind,
		Name:             c.PostForm("name"),
		BundleIdentifier: c.PostForm("bundle_identifier"),
		Version:          c.PostForm("version"),
	}
	if meta.Name == "" {
		meta.Name = bundleHeader.Filename
	}

	if iconHeader, err := c.FormFile("icon"); err == nil {
		meta.Icon, err = readIcon(iconHeader)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	rec, err := h.registry.CommitNew(c.Request.Context(), meta, bundle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handlers) uploadTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"success": false,
		"error":   fmt.Sprintf("upload exceeds %d bytes", h.maxUpload),
		"code":    apperrors.CodeInvalidInput,
	})
}

func readIcon(header *multipart.FileHeader) ([]byte, error) {
	if header.Size > maxIconBytes {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "icon exceeds %d bytes", maxIconBytes)
	}
	f, err := header.Open()
	if err != nil {
		return nil, apperrors.IO("open uploaded icon", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxIconBytes))
	if err != nil {
		return nil, apperrors.IO("read uploaded icon", err)
	}
	return data, nil
}

type statusRequest struct {
	State  string `json:"state" binding:"required"`
	Reason string `json:"reason"`
}

// UpdateStatus moves an application through the signing lifecycle
func (h *Handlers) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	status := types.SigningStatus{State: types.SigningState(req.State), Reason: req.Reason}
	if err := status.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	rec, err := h.registry.UpdateSigningStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteApp removes an application. A removal whose directory could not be
// deleted still succeeds and is reported with 207 and a warning.
func (h *Handlers) DeleteApp(c *gin.Context) {
	appID := c.Param("id")
	err := h.registry.Remove(c.Request.Context(), appID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "id": appID})
	case apperrors.Is(err, apperrors.CodePartialCleanup):
		c.JSON(http.StatusMultiStatus, gin.H{
			"success": true,
			"id":      appID,
			"warning": err.Error(),
		})
	default:
		respondError(c, err)
	}
}

// Sweep reconciles the artifact store with the database
func (h *Handlers) Sweep(c *gin.Context) {
	report, err := h.registry.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListSources lists application sources
func (h *Handlers) ListSources(c *gin.Context) {
	if h.sources == nil {
		c.JSON(http.StatusOK, gin.H{"sources": []*types.Source{}})
		return
	}
	sources, err := h.sources.ListSources(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}
