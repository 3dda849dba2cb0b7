package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
	"github.com/flipshare/flipshare/internal/registry"
)

// ownerDocument is the console payload, counters included.
type ownerDocument struct {
	ID             string              `json:"id"`
	PublicSlug     string              `json:"publicSlug"`
	ShareURL       string              `json:"shareUrl"`
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	DocType        string              `json:"docType"`
	Status         string              `json:"status"`
	Files          model.DocumentFiles `json:"files"`
	AllowDownload  bool                `json:"allowDownload"`
	RequireContact bool                `json:"requireContact"`
	Protected      bool                `json:"passwordProtected"`
	ExpiresAt      *time.Time          `json:"expiresAt,omitempty"`
	Stats          ownerStats          `json:"stats"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

type ownerStats struct {
	TotalViews        int        `json:"totalViews"`
	UniqueViews       int        `json:"uniqueViews"`
	TotalDownloads    int        `json:"totalDownloads"`
	ContactsCollected int        `json:"contactsCollected"`
	LastViewedAt      *time.Time `json:"lastViewedAt,omitempty"`
}

func (h *Handler) toOwnerDocument(doc *model.Document) ownerDocument {
	return ownerDocument{
		ID:             doc.ID,
		PublicSlug:     doc.PublicSlug,
		ShareURL:       h.Cfg.BaseURL + "/p/" + doc.PublicSlug,
		Title:          doc.Title,
		Description:    doc.Description,
		DocType:        doc.DocType,
		Status:         doc.Status,
		Files:          doc.Files,
		AllowDownload:  doc.AllowDownload,
		RequireContact: doc.RequireContact,
		Protected:      doc.PasswordHash != nil,
		ExpiresAt:      doc.ExpiresAt,
		Stats: ownerStats{
			TotalViews:        doc.Stats.TotalViews,
			UniqueViews:       doc.Stats.UniqueViews,
			TotalDownloads:    doc.Stats.TotalDownloads,
			ContactsCollected: doc.Stats.ContactsCollected,
			LastViewedAt:      doc.Stats.LastViewedAt,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// DocumentCreate takes a multipart form: file plus metadata fields.
func (h *Handler) DocumentCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid multipart form or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file is required")
		return
	}
	defer file.Close()

	in := registry.CreateInput{
		Title:          r.FormValue("title"),
		Description:    r.FormValue("description"),
		DocType:        r.FormValue("doc_type"),
		AllowDownload:  r.FormValue("allow_download") != "false",
		RequireContact: r.FormValue("require_contact") == "true",
		Password:       r.FormValue("password"),
		File:           file,
		FileName:       header.Filename,
		FileSize:       header.Size,
		MimeType:       header.Header.Get("Content-Type"),
	}
	if v := r.FormValue("expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "expires_at must be RFC3339")
			return
		}
		in.ExpiresAt = &t
	}

	doc, err := h.Registry.Create(r.Context(), auth.AccountFromContext(r.Context()), in)
	if err != nil {
		if doc != nil && doc.Status == model.StatusError {
			renderJSONError(w, http.StatusBadGateway, "UPLOAD_FAILED", "media upload failed")
			return
		}
		renderServiceError(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, h.toOwnerDocument(doc))
}

func (h *Handler) DocumentList(w http.ResponseWriter, r *http.Request) {
	limit, offset, page, perPage := paginate(r, 20, 100)
	filter := db.DocumentFilter{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	}

	docs, total, err := h.Registry.List(r.Context(), auth.AccountFromContext(r.Context()), filter)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	items := make([]ownerDocument, 0, len(docs))
	for i := range docs {
		items = append(items, h.toOwnerDocument(&docs[i]))
	}
	renderJSON(w, http.StatusOK, paginated(items, total, page, perPage))
}

func (h *Handler) DocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, h.toOwnerDocument(doc))
}

type documentUpdateRequest struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	Status         *string `json:"status"`
	AllowDownload  *bool   `json:"allowDownload"`
	RequireContact *bool   `json:"requireContact"`
	Password       *string `json:"password"`
	ExpiresAt      *string `json:"expiresAt"`
	ClearExpiry    bool    `json:"clearExpiry"`
}

func (h *Handler) DocumentUpdate(w http.ResponseWriter, r *http.Request) {
	var req documentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}

	in := registry.UpdateInput{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		AllowDownload:  req.AllowDownload,
		RequireContact: req.RequireContact,
		Password:       req.Password,
		ClearExpiry:    req.ClearExpiry,
	}
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "expiresAt must be RFC3339")
			return
		}
		in.ExpiresAt = &t
	}

	doc, err := h.Registry.Update(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, h.toOwnerDocument(doc))
}

func (h *Handler) DocumentDelete(w http.ResponseWriter, r *http.Request) {
	res, err := h.Registry.Delete(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, res)
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) DocumentBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "ids is required")
		return
	}
	if len(req.IDs) > 50 {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "at most 50 ids per request")
		return
	}

	items := h.Registry.BulkDelete(r.Context(), auth.AccountFromContext(r.Context()), req.IDs)
	deleted := 0
	for _, item := range items {
		if item.Deleted {
			deleted++
		}
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"failed":  len(items) - deleted,
		"items":   items,
	})
}

// DocumentRecalculate rebuilds the counters from the ledger on demand.
func (h *Handler) DocumentRecalculate(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	res, err := h.Engine.RecalculateStats(r.Context(), doc)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"drifted": res.Drifted,
		"stats": ownerStats{
			TotalViews:        res.Stats.TotalViews,
			UniqueViews:       res.Stats.UniqueViews,
			TotalDownloads:    res.Stats.TotalDownloads,
			ContactsCollected: res.Stats.ContactsCollected,
			LastViewedAt:      res.Stats.LastViewedAt,
		},
	})
}
