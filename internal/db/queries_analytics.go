package db

import (
	"database/sql"
	"time"

	"github.com/flipshare/flipshare/internal/model"
)

// AnalyticsSummary covers one document over a date range.
type AnalyticsSummary struct {
	TotalViews     int `json:"totalViews"`
	UniqueVisitors int `json:"uniqueVisitors"`
	Contacts       int `json:"contacts"`
	Downloads      int `json:"downloads"`
	VideoUnlocks   int `json:"videoUnlocks"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type BucketCount struct {
	Bucket string `json:"bucket"`
	Views  int    `json:"views"`
	Unique int    `json:"unique"`
}

func DocumentSummary(database *sql.DB, documentID string, from, to time.Time) (AnalyticsSummary, error) {
	var s AnalyticsSummary
	err := database.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(is_unique), 0),
			COUNT(CASE WHEN submitted_name IS NOT NULL THEN 1 END),
			COUNT(CASE WHEN video_unlocked = 1 THEN 1 END)
		 FROM views
		 WHERE document_id = ? AND created_at >= ? AND created_at < ?`,
		documentID, fmtTime(from), fmtTime(to),
	).Scan(&s.TotalViews, &s.UniqueVisitors, &s.Contacts, &s.VideoUnlocks)
	if err != nil {
		return s, err
	}
	err = database.QueryRow(
		`SELECT COUNT(*) FROM view_events
		 WHERE document_id = ? AND kind = ? AND created_at >= ? AND created_at < ?`,
		documentID, model.EventDownload, fmtTime(from), fmtTime(to),
	).Scan(&s.Downloads)
	return s, err
}

func TopCountries(database *sql.DB, documentID string, from, to time.Time, limit int) ([]LabelCount, error) {
	return labelCounts(database,
		`SELECT geo_country, COUNT(*) FROM views
		 WHERE document_id = ? AND created_at >= ? AND created_at < ?
		   AND geo_country IS NOT NULL AND geo_country != ''
		 GROUP BY geo_country ORDER BY COUNT(*) DESC LIMIT ?`,
		documentID, fmtTime(from), fmtTime(to), limit)
}

func TopBrowsers(database *sql.DB, documentID string, from, to time.Time, limit int) ([]LabelCount, error) {
	return labelCounts(database,
		`SELECT device_browser, COUNT(*) FROM views
		 WHERE document_id = ? AND created_at >= ? AND created_at < ?
		   AND device_browser IS NOT NULL AND device_browser != ''
		 GROUP BY device_browser ORDER BY COUNT(*) DESC LIMIT ?`,
		documentID, fmtTime(from), fmtTime(to), limit)
}

func DeviceBreakdown(database *sql.DB, documentID string, from, to time.Time) ([]LabelCount, error) {
	return labelCounts(database,
		`SELECT COALESCE(NULLIF(device_family, ''), 'unknown'), COUNT(*) FROM views
		 WHERE document_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY 1 ORDER BY COUNT(*) DESC`,
		documentID, fmtTime(from), fmtTime(to))
}

func labelCounts(database *sql.DB, query string, args ...interface{}) ([]LabelCount, error) {
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// ViewsOverTime groups views into hour, day, or week buckets. Buckets with no
// views are absent; the caller decides whether to zero-fill.
func ViewsOverTime(database *sql.DB, documentID string, from, to time.Time, bucket string) ([]BucketCount, error) {
	format := "%Y-%m-%d"
	switch bucket {
	case "hour":
		format = "%Y-%m-%dT%H:00"
	case "week":
		format = "%Y-W%W"
	}
	rows, err := database.Query(
		`SELECT strftime(?, created_at), COUNT(*), COALESCE(SUM(is_unique), 0)
		 FROM views
		 WHERE document_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY 1 ORDER BY 1 ASC`,
		format, documentID, fmtTime(from), fmtTime(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BucketCount
	for rows.Next() {
		var bc BucketCount
		if err := rows.Scan(&bc.Bucket, &bc.Views, &bc.Unique); err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// ViewDurations returns engagement spans in seconds, one per view that logged
// more than one event inside the range. Single-event views carry no span and
// are skipped.
func ViewDurations(database *sql.DB, documentID string, from, to time.Time) ([]float64, error) {
	rows, err := database.Query(
		`SELECT (julianday(MAX(created_at)) - julianday(MIN(created_at))) * 86400.0
		 FROM view_events
		 WHERE document_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY view_id
		 HAVING COUNT(*) > 1`,
		documentID, fmtTime(from), fmtTime(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DashboardStats rolls all of an owner's documents into one block.
type DashboardStats struct {
	Documents         int `json:"documents"`
	TotalViews        int `json:"totalViews"`
	UniqueViews       int `json:"uniqueViews"`
	TotalDownloads    int `json:"totalDownloads"`
	ContactsCollected int `json:"contactsCollected"`
}

func GetDashboardStats(database *sql.DB, ownerID string) (DashboardStats, error) {
	var s DashboardStats
	err := database.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(total_views), 0),
			COALESCE(SUM(unique_views), 0),
			COALESCE(SUM(total_downloads), 0),
			COALESCE(SUM(contacts_collected), 0)
		 FROM documents WHERE owner_id = ? AND status != 'deleted'`, ownerID,
	).Scan(&s.Documents, &s.TotalViews, &s.UniqueViews, &s.TotalDownloads, &s.ContactsCollected)
	return s, err
}

// TopDocuments lists an owner's documents by view count.
func TopDocuments(database *sql.DB, ownerID string, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := database.Query(
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner_id = ? AND status != 'deleted'
		 ORDER BY total_views DESC LIMIT ?`, ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// RecentViews lists the latest views across all of an owner's documents.
func RecentViews(database *sql.DB, ownerID string, limit int) ([]model.View, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := database.Query(
		`SELECT `+viewColumnsPrefixed+` FROM views v
		 JOIN documents d ON d.id = v.document_id
		 WHERE d.owner_id = ? AND d.status != 'deleted'
		 ORDER BY v.created_at DESC LIMIT ?`, ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []model.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}

const viewColumnsPrefixed = `v.id, v.document_id, v.session_id, v.ip_address, v.user_agent, v.referrer,
	v.geo_country, v.geo_region, v.geo_city, v.geo_timezone, v.geo_lat, v.geo_lon,
	v.device_browser, v.device_os, v.device_family, v.device_mobile,
	v.submitted_name, v.submitted_mobile, v.contact_submitted_at,
	v.video_unlocked, v.video_unlocked_at, v.is_unique, v.created_at`

// ExportViews returns every view on the document oldest first, for CSV export.
func ExportViews(database *sql.DB, documentID string) ([]model.View, error) {
	rows, err := database.Query(
		`SELECT `+viewColumns+` FROM views WHERE document_id = ? ORDER BY created_at ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []model.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}
