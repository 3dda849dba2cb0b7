package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/stat"

	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
)

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountFromContext(r.Context())

	stats, err := db.GetDashboardStats(h.DB, accountID)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	top, err := db.TopDocuments(h.DB, accountID, 5)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	recent, err := db.RecentViews(h.DB, accountID, 10)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	topOut := make([]ownerDocument, 0, len(top))
	for i := range top {
		topOut = append(topOut, h.toOwnerDocument(&top[i]))
	}
	recentOut := make([]viewPayload, 0, len(recent))
	for i := range recent {
		recentOut = append(recentOut, toViewPayload(&recent[i]))
	}

	renderJSON(w, http.StatusOK, map[string]interface{}{
		"stats":        stats,
		"topDocuments": topOut,
		"recentViews":  recentOut,
	})
}

// dateRange reads from/to query params, defaulting to the last 30 days. The
// upper bound is exclusive.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now.Add(time.Minute)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, fmt.Errorf("from must be YYYY-MM-DD")
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, fmt.Errorf("to must be YYYY-MM-DD")
		}
		to = t.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return from, to, fmt.Errorf("to must be after from")
	}
	return from, to, nil
}

// engagement summarizes per-view active spans.
type engagement struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"meanSeconds"`
	Median  float64 `json:"medianSeconds"`
	P90     float64 `json:"p90Seconds"`
}

func engagementStats(durations []float64) engagement {
	e := engagement{Samples: len(durations)}
	if len(durations) == 0 {
		return e
	}
	sort.Float64s(durations)
	e.Mean = stat.Mean(durations, nil)
	e.Median = stat.Quantile(0.5, stat.Empirical, durations, nil)
	e.P90 = stat.Quantile(0.9, stat.Empirical, durations, nil)
	return e
}

func (h *Handler) DocumentAnalytics(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	bucket := r.URL.Query().Get("bucket")
	switch bucket {
	case "", "day":
		bucket = "day"
	case "hour", "week":
	default:
		renderJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "bucket must be hour, day, or week")
		return
	}

	summary, err := db.DocumentSummary(h.DB, doc.ID, from, to)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	countries, err := db.TopCountries(h.DB, doc.ID, from, to, 10)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	browsers, err := db.TopBrowsers(h.DB, doc.ID, from, to, 10)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	devices, err := db.DeviceBreakdown(h.DB, doc.ID, from, to)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	series, err := db.ViewsOverTime(h.DB, doc.ID, from, to, bucket)
	if err != nil {
		renderServiceError(w, err)
		return
	}
	durations, err := db.ViewDurations(h.DB, doc.ID, from, to)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	renderJSON(w, http.StatusOK, map[string]interface{}{
		"summary":      summary,
		"topCountries": countries,
		"topBrowsers":  browsers,
		"devices":      devices,
		"viewsOverTime": map[string]interface{}{
			"bucket": bucket,
			"series": series,
		},
		"engagement": engagementStats(durations),
	})
}

type viewPayload struct {
	ID            string        `json:"id"`
	DocumentID    string        `json:"documentId"`
	SessionID     string        `json:"sessionId"`
	Referrer      string        `json:"referrer,omitempty"`
	Geo           *model.Geo    `json:"geo,omitempty"`
	Device        *model.Device `json:"device,omitempty"`
	Name          string        `json:"name,omitempty"`
	Mobile        string        `json:"mobile,omitempty"`
	ContactAt     *time.Time    `json:"contactSubmittedAt,omitempty"`
	VideoUnlocked bool          `json:"videoUnlocked"`
	IsUnique      bool          `json:"isUnique"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func toViewPayload(v *model.View) viewPayload {
	return viewPayload{
		ID:            v.ID,
		DocumentID:    v.DocumentID,
		SessionID:     v.SessionID,
		Referrer:      v.Referrer,
		Geo:           v.Geo,
		Device:        v.Device,
		Name:          v.SubmittedName,
		Mobile:        v.SubmittedMobile,
		ContactAt:     v.ContactSubmittedAt,
		VideoUnlocked: v.VideoUnlocked,
		IsUnique:      v.IsUnique,
		CreatedAt:     v.CreatedAt,
	}
}

func (h *Handler) DocumentViews(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	limit, offset, page, perPage := paginate(r, 50, 200)
	views, total, err := db.ListViewsByDocument(h.DB, doc.ID, limit, offset)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	items := make([]viewPayload, 0, len(views))
	for i := range views {
		items = append(items, toViewPayload(&views[i]))
	}
	renderJSON(w, http.StatusOK, paginated(items, total, page, perPage))
}

// DocumentViewGet returns one view together with its event log, for drilling
// into a single visit from the console.
func (h *Handler) DocumentViewGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	view, err := db.GetViewByID(h.DB, chi.URLParam(r, "viewId"))
	if err != nil {
		renderServiceError(w, err)
		return
	}
	if view == nil || view.DocumentID != doc.ID {
		renderJSONError(w, http.StatusNotFound, "VIEW_NOT_FOUND", "no such view on this document")
		return
	}

	events, err := db.ListEventsByView(h.DB, view.ID)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	type eventPayload struct {
		Kind      string    `json:"kind"`
		Payload   string    `json:"payload,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
	}
	eventsOut := make([]eventPayload, 0, len(events))
	for _, e := range events {
		eventsOut = append(eventsOut, eventPayload{
			Kind: e.Kind, Payload: e.PayloadJSON, CreatedAt: e.CreatedAt,
		})
	}

	renderJSON(w, http.StatusOK, map[string]interface{}{
		"view":   toViewPayload(view),
		"events": eventsOut,
	})
}

func (h *Handler) DocumentContacts(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	limit, offset, page, perPage := paginate(r, 50, 200)
	views, total, err := db.ListContactsByDocument(h.DB, doc.ID, limit, offset)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	items := make([]viewPayload, 0, len(views))
	for i := range views {
		items = append(items, toViewPayload(&views[i]))
	}
	renderJSON(w, http.StatusOK, paginated(items, total, page, perPage))
}

// DocumentExport streams the full view ledger as CSV.
func (h *Handler) DocumentExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Registry.GetOwned(r.Context(), auth.AccountFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		renderServiceError(w, err)
		return
	}

	views, err := db.ExportViews(h.DB, doc.ID)
	if err != nil {
		renderServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="views-%s.csv"`, doc.PublicSlug))

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"view_id", "created_at", "is_unique", "country", "region", "city",
		"browser", "os", "device", "referrer", "name", "mobile",
		"contact_submitted_at", "video_unlocked",
	})
	for i := range views {
		v := &views[i]
		var country, region, city string
		if v.Geo != nil {
			country, region, city = v.Geo.Country, v.Geo.Region, v.Geo.City
		}
		var browser, osName, family string
		if v.Device != nil {
			browser, osName, family = v.Device.Browser, v.Device.OS, v.Device.Family
		}
		contactAt := ""
		if v.ContactSubmittedAt != nil {
			contactAt = v.ContactSubmittedAt.UTC().Format(time.RFC3339)
		}
		cw.Write([]string{
			v.ID,
			v.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(v.IsUnique),
			country, region, city,
			browser, osName, family,
			v.Referrer,
			v.SubmittedName, v.SubmittedMobile,
			contactAt,
			strconv.FormatBool(v.VideoUnlocked),
		})
	}
	cw.Flush()
}
