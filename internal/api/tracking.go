package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailrouter/internal/pkg/httputil"
	"github.com/ignite/mailrouter/internal/pkg/logger"

	"github.com/ignite/mailrouter/internal/domain"
)

// 1x1 transparent GIF served for every open hit.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// HandleOpen records an open hit and serves the pixel. The pixel is
// served on every outcome, including verification failures, so that
// probing the endpoint reveals nothing about delivery state.
func (h *Handlers) HandleOpen(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")
	hash := chi.URLParam(r, "hash")

	if err := h.analytics.RecordOpen(r.Context(), emailID, hash, r); err != nil {
		logger.Debug("open hit not recorded", map[string]interface{}{
			"email_id": emailID,
			"error":    err.Error(),
		})
	}
	servePixel(w)
}

// HandleClick records a click hit and redirects to the original URL.
// Unresolvable or unverifiable links get a 400, never an open redirect.
func (h *Handlers) HandleClick(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")
	linkHash := chi.URLParam(r, "linkHash")
	hash := chi.URLParam(r, "hash")

	url, err := h.analytics.RecordClick(r.Context(), emailID, linkHash, hash, r)
	if err != nil {
		logger.Debug("click hit rejected", map[string]interface{}{
			"email_id": emailID,
			"error":    err.Error(),
		})
		httputil.BadRequest(w, "invalid tracking link")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Write(pixelGIF)
}

// SaveTemplate upserts a named message template.
func (h *Handlers) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl domain.Template
	if !httputil.Decode(w, r, &tpl) {
		return
	}
	if tpl.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if err := h.store.SaveTemplate(r.Context(), &tpl); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

// GetTemplate returns a template by name.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.store.GetTemplate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.OK(w, tpl)
}
