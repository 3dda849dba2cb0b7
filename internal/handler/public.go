package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flipshare/flipshare/internal/model"
	"github.com/flipshare/flipshare/internal/tracking"
	"github.com/flipshare/flipshare/internal/webhook"
)

// publicDocument is the share-page payload. Owner-only fields (counters, the
// password hash) never appear here.
type publicDocument struct {
	Slug           string              `json:"slug"`
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	DocType        string              `json:"docType"`
	Files          model.DocumentFiles `json:"files"`
	AllowDownload  bool                `json:"allowDownload"`
	RequireContact bool                `json:"requireContact"`
	Protected      bool                `json:"passwordProtected"`
}

func toPublicDocument(doc *model.Document) publicDocument {
	return publicDocument{
		Slug:           doc.PublicSlug,
		Title:          doc.Title,
		Description:    doc.Description,
		DocType:        doc.DocType,
		Files:          doc.Files,
		AllowDownload:  doc.AllowDownload,
		RequireContact: doc.RequireContact,
		Protected:      doc.PasswordHash != nil,
	}
}

// resolvePublic loads the document and enforces the password gate. The
// password travels in a header so it stays out of access logs.
func (h *Handler) resolvePublic(w http.ResponseWriter, r *http.Request) *model.Document {
	doc, err := h.Registry.GetPublic(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		renderServiceError(w, err)
		return nil
	}
	if err := h.Registry.CheckPassword(doc, r.Header.Get("X-Document-Password")); err != nil {
		renderServiceError(w, err)
		return nil
	}
	return doc
}

func (h *Handler) PublicDocument(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}
	renderJSON(w, http.StatusOK, toPublicDocument(doc))
}

type recordViewRequest struct {
	SessionID string     `json:"sessionId"`
	Referrer  string     `json:"referrer"`
	Geo       *model.Geo `json:"geo"`
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}

	var req recordViewRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
			return
		}
	}

	res, err := h.Engine.RecordView(r.Context(), doc, tracking.ViewInput{
		SessionID: req.SessionID,
		IP:        realIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  req.Referrer,
		ClientGeo: req.Geo,
	})
	if err != nil {
		renderServiceError(w, err)
		return
	}

	if res.Created {
		h.notifyOwner(doc, "view", map[string]interface{}{
			"documentId": doc.ID,
			"title":      doc.Title,
			"viewId":     res.View.ID,
			"isUnique":   res.View.IsUnique,
		})
		h.Webhook.Dispatch(doc.OwnerID, webhook.EventViewRecorded, map[string]interface{}{
			"documentId": doc.ID,
			"viewId":     res.View.ID,
			"isUnique":   res.View.IsUnique,
		})
	}

	renderJSON(w, http.StatusOK, map[string]interface{}{
		"viewId":    res.View.ID,
		"sessionId": res.View.SessionID,
		"isUnique":  res.View.IsUnique,
		"created":   res.Created,
	})
}

type recordEventRequest struct {
	SessionID string          `json:"sessionId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}

	var req recordEventRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	err := h.Engine.RecordEvent(r.Context(), doc, req.SessionID, req.Kind, string(req.Payload))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type submitContactRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Mobile    string `json:"mobile"`
}

func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}

	var req submitContactRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	res, err := h.Engine.SubmitContact(r.Context(), doc, req.SessionID, req.Name, req.Mobile)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	if res.NewContact {
		h.notifyOwner(doc, "contact", map[string]interface{}{
			"documentId": doc.ID,
			"title":      doc.Title,
			"name":       res.View.SubmittedName,
		})
		h.Webhook.Dispatch(doc.OwnerID, webhook.EventContactSubmitted, map[string]interface{}{
			"documentId": doc.ID,
			"viewId":     res.View.ID,
			"name":       res.View.SubmittedName,
			"mobile":     res.View.SubmittedMobile,
		})
	}

	renderJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"newContact": res.NewContact,
	})
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}
	if !doc.AllowDownload {
		renderJSONError(w, http.StatusForbidden, "DOWNLOAD_DISABLED", "downloads are disabled for this document")
		return
	}

	fileURL := originalFileURL(doc)
	if fileURL == "" {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "no file available")
		return
	}

	view, err := h.Engine.RecordDownload(r.Context(), doc, tracking.ViewInput{
		SessionID: r.URL.Query().Get("session_id"),
		IP:        realIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		renderServiceError(w, err)
		return
	}

	h.Webhook.Dispatch(doc.OwnerID, webhook.EventDocDownloaded, map[string]interface{}{
		"documentId": doc.ID,
		"viewId":     view.ID,
	})
	h.notifyOwner(doc, "download", map[string]interface{}{
		"documentId": doc.ID,
		"title":      doc.Title,
	})

	http.Redirect(w, r, fileURL, http.StatusFound)
}

// Stream redirects to a derived playback URL. Gated videos require an
// unlocked view first.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}
	if doc.Files.Video == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "document has no video")
		return
	}

	if doc.RequireContact {
		if _, err := h.Engine.UnlockVideo(r.Context(), doc, r.URL.Query().Get("session_id")); err != nil {
			renderServiceError(w, err)
			return
		}
	}

	formats := doc.Files.Video.Formats
	url := formats.MP4
	switch r.URL.Query().Get("format") {
	case "webm":
		url = formats.WebM
	case "mobile":
		url = formats.Mobile
	}
	if url == "" {
		url = doc.Files.Video.Original.URL
	}
	if url == "" {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "no playable format")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

type unlockRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) UnlockVideo(w http.ResponseWriter, r *http.Request) {
	doc := h.resolvePublic(w, r)
	if doc == nil {
		return
	}
	if doc.DocType != model.TypeVideo {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "document is not a video")
		return
	}

	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	view, err := h.Engine.UnlockVideo(r.Context(), doc, req.SessionID)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"unlocked":   view.VideoUnlocked,
		"unlockedAt": view.VideoUnlockedAt,
	})
}

func (h *Handler) notifyOwner(doc *model.Document, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.SSE.Publish("account:"+doc.OwnerID, sseEvent(eventType, string(payload)))
}

func originalFileURL(doc *model.Document) string {
	if doc.Files.PDF != nil {
		return doc.Files.PDF.Original.URL
	}
	if doc.Files.Video != nil {
		return doc.Files.Video.Original.URL
	}
	return ""
}
