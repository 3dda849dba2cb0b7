package db

import (
	"database/sql"
	"time"

	"github.com/flipshare/flipshare/internal/model"
)

const viewColumns = `id, document_id, session_id, ip_address, user_agent, referrer,
	geo_country, geo_region, geo_city, geo_timezone, geo_lat, geo_lon,
	device_browser, device_os, device_family, device_mobile,
	submitted_name, submitted_mobile, contact_submitted_at,
	video_unlocked, video_unlocked_at, is_unique, created_at`

func scanView(row docScanner) (*model.View, error) {
	v := &model.View{}
	var country, region, city, timezone *string
	var lat, lon *float64
	var browser, osName, family *string
	var mobile bool
	var submittedName, submittedMobile *string
	var contactAt, unlockedAt *string
	var createdAt SQLiteTime
	err := row.Scan(
		&v.ID, &v.DocumentID, &v.SessionID, &v.IPAddress, &v.UserAgent, &v.Referrer,
		&country, &region, &city, &timezone, &lat, &lon,
		&browser, &osName, &family, &mobile,
		&submittedName, &submittedMobile, &contactAt,
		&v.VideoUnlocked, &unlockedAt, &v.IsUnique, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if country != nil || region != nil || city != nil || timezone != nil {
		v.Geo = &model.Geo{}
		if country != nil {
			v.Geo.Country = *country
		}
		if region != nil {
			v.Geo.Region = *region
		}
		if city != nil {
			v.Geo.City = *city
		}
		if timezone != nil {
			v.Geo.Timezone = *timezone
		}
		if lat != nil {
			v.Geo.Lat = *lat
		}
		if lon != nil {
			v.Geo.Lon = *lon
		}
	}
	if browser != nil || osName != nil || family != nil {
		v.Device = &model.Device{Mobile: mobile}
		if browser != nil {
			v.Device.Browser = *browser
		}
		if osName != nil {
			v.Device.OS = *osName
		}
		if family != nil {
			v.Device.Family = *family
		}
	}
	if submittedName != nil {
		v.SubmittedName = *submittedName
	}
	if submittedMobile != nil {
		v.SubmittedMobile = *submittedMobile
	}
	v.ContactSubmittedAt = parseTimePtr(contactAt)
	v.VideoUnlockedAt = parseTimePtr(unlockedAt)
	v.CreatedAt = createdAt.Time
	return v, nil
}

func InsertView(database *sql.DB, v *model.View) error {
	var country, region, city, timezone *string
	var lat, lon *float64
	if v.Geo != nil {
		country, region, city, timezone = &v.Geo.Country, &v.Geo.Region, &v.Geo.City, &v.Geo.Timezone
		lat, lon = &v.Geo.Lat, &v.Geo.Lon
	}
	var browser, osName, family *string
	mobile := false
	if v.Device != nil {
		browser, osName, family = &v.Device.Browser, &v.Device.OS, &v.Device.Family
		mobile = v.Device.Mobile
	}
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := database.Exec(
		`INSERT INTO views (id, document_id, session_id, ip_address, user_agent, referrer,
			geo_country, geo_region, geo_city, geo_timezone, geo_lat, geo_lon,
			device_browser, device_os, device_family, device_mobile, is_unique, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DocumentID, v.SessionID, v.IPAddress, v.UserAgent, v.Referrer,
		country, region, city, timezone, lat, lon,
		browser, osName, family, mobile, v.IsUnique, fmtTime(createdAt),
	)
	return err
}

func GetViewByID(database *sql.DB, id string) (*model.View, error) {
	row := database.QueryRow(`SELECT `+viewColumns+` FROM views WHERE id = ?`, id)
	v, err := scanView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// GetViewBySession returns the most recent view for the browsing session
// against the given document.
func GetViewBySession(database *sql.DB, documentID, sessionID string) (*model.View, error) {
	row := database.QueryRow(
		`SELECT `+viewColumns+` FROM views
		 WHERE document_id = ? AND session_id = ?
		 ORDER BY created_at DESC LIMIT 1`, documentID, sessionID,
	)
	v, err := scanView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// HasRecentViewFromIP reports whether the IP already produced a view on this
// document after the cutoff. Drives provisional uniqueness classification.
func HasRecentViewFromIP(database *sql.DB, documentID, ip string, since time.Time) (bool, error) {
	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM views
		 WHERE document_id = ? AND ip_address = ? AND created_at >= ?`,
		documentID, ip, fmtTime(since),
	).Scan(&count)
	return count > 0, err
}

// GetRecentViewFromIP returns the latest view from the IP after the cutoff,
// used by download handling to attribute downloads without a tracked session.
func GetRecentViewFromIP(database *sql.DB, documentID, ip string, since time.Time) (*model.View, error) {
	row := database.QueryRow(
		`SELECT `+viewColumns+` FROM views
		 WHERE document_id = ? AND ip_address = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		documentID, ip, fmtTime(since),
	)
	v, err := scanView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// ContactExists reports whether another view on the document already carries
// the same identity: name compared case-insensitively after trimming, mobile
// compared exactly after trimming. excludeViewID keeps a resubmission from
// matching itself.
func ContactExists(database *sql.DB, documentID, name, mobile, excludeViewID string) (bool, error) {
	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM views
		 WHERE document_id = ?
		   AND id != ?
		   AND submitted_name IS NOT NULL
		   AND lower(trim(submitted_name)) = lower(trim(?))
		   AND trim(submitted_mobile) = trim(?)`,
		documentID, excludeViewID, name, mobile,
	).Scan(&count)
	return count > 0, err
}

// RetractUniqueView flips is_unique off only if it is still on, reporting
// whether this call performed the flip. Concurrent retractions of the same
// view collapse to a single winner.
func RetractUniqueView(database *sql.DB, viewID string) (bool, error) {
	res, err := database.Exec(
		`UPDATE views SET is_unique = 0 WHERE id = ? AND is_unique = 1`, viewID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func UpdateViewContact(database *sql.DB, viewID, name, mobile string, at time.Time) error {
	_, err := database.Exec(
		`UPDATE views SET submitted_name = ?, submitted_mobile = ?, contact_submitted_at = ?
		 WHERE id = ?`,
		name, mobile, fmtTime(at), viewID,
	)
	return err
}

// UnlockVideo marks the view's video as unlocked if it is not already,
// reporting whether this call did the unlock.
func UnlockVideo(database *sql.DB, viewID string, at time.Time) (bool, error) {
	res, err := database.Exec(
		`UPDATE views SET video_unlocked = 1, video_unlocked_at = ?
		 WHERE id = ? AND video_unlocked = 0`,
		fmtTime(at), viewID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func ListViewsByDocument(database *sql.DB, documentID string, limit, offset int) ([]model.View, int, error) {
	var total int
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM views WHERE document_id = ?`, documentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(
		`SELECT `+viewColumns+` FROM views WHERE document_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		documentID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var views []model.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, *v)
	}
	return views, total, rows.Err()
}

// ListContactsByDocument returns views that submitted contact details, newest
// first.
func ListContactsByDocument(database *sql.DB, documentID string, limit, offset int) ([]model.View, int, error) {
	var total int
	if err := database.QueryRow(
		`SELECT COUNT(*) FROM views WHERE document_id = ? AND submitted_name IS NOT NULL`,
		documentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(
		`SELECT `+viewColumns+` FROM views
		 WHERE document_id = ? AND submitted_name IS NOT NULL
		 ORDER BY contact_submitted_at DESC LIMIT ? OFFSET ?`,
		documentID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var views []model.View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, *v)
	}
	return views, total, rows.Err()
}

func InsertViewEvent(database *sql.DB, e *model.ViewEvent) error {
	payload := e.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := database.Exec(
		`INSERT INTO view_events (id, view_id, document_id, kind, payload_json)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ViewID, e.DocumentID, e.Kind, payload,
	)
	return err
}

func ListEventsByView(database *sql.DB, viewID string) ([]model.ViewEvent, error) {
	rows, err := database.Query(
		`SELECT id, view_id, document_id, kind, payload_json, created_at
		 FROM view_events WHERE view_id = ? ORDER BY created_at ASC`, viewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ViewEvent
	for rows.Next() {
		var e model.ViewEvent
		var createdAt SQLiteTime
		if err := rows.Scan(&e.ID, &e.ViewID, &e.DocumentID, &e.Kind, &e.PayloadJSON, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.Time
		events = append(events, e)
	}
	return events, rows.Err()
}

// ComputeLedgerStats recomputes the document counters from the view ledger.
// The distinct contact count uses the same identity key as ContactExists so a
// rebuild agrees with incremental accounting.
func ComputeLedgerStats(database *sql.DB, documentID string) (model.DocumentStats, error) {
	var stats model.DocumentStats
	var lastViewed *string
	err := database.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(is_unique), 0),
			COUNT(DISTINCT CASE WHEN submitted_name IS NOT NULL
				THEN lower(trim(submitted_name)) || '|' || trim(submitted_mobile) END),
			MAX(created_at)
		 FROM views WHERE document_id = ?`, documentID,
	).Scan(&stats.TotalViews, &stats.UniqueViews, &stats.ContactsCollected, &lastViewed)
	if err != nil {
		return stats, err
	}
	stats.LastViewedAt = parseTimePtr(lastViewed)

	err = database.QueryRow(
		`SELECT COUNT(*) FROM view_events WHERE document_id = ? AND kind = ?`,
		documentID, model.EventDownload,
	).Scan(&stats.TotalDownloads)
	return stats, err
}
