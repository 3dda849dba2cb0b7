package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flipshare/flipshare/internal/model"
)

const documentColumns = `id, owner_id, public_slug, title, description, doc_type, status,
	files_json, allow_download, require_contact, password_hash, expires_at,
	total_views, unique_views, total_downloads, contacts_collected, last_viewed_at,
	created_at, updated_at`

type docScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row docScanner) (*model.Document, error) {
	d := &model.Document{}
	var filesJSON string
	var expiresAt, lastViewedAt *string
	var createdAt, updatedAt SQLiteTime
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.PublicSlug, &d.Title, &d.Description, &d.DocType, &d.Status,
		&filesJSON, &d.AllowDownload, &d.RequireContact, &d.PasswordHash, &expiresAt,
		&d.Stats.TotalViews, &d.Stats.UniqueViews, &d.Stats.TotalDownloads,
		&d.Stats.ContactsCollected, &lastViewedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filesJSON), &d.Files); err != nil {
		return nil, fmt.Errorf("decode files for document %s: %w", d.ID, err)
	}
	d.ExpiresAt = parseTimePtr(expiresAt)
	d.Stats.LastViewedAt = parseTimePtr(lastViewedAt)
	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time
	return d, nil
}

func CreateDocument(database *sql.DB, d *model.Document) error {
	filesJSON, err := json.Marshal(d.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	_, err = database.Exec(
		`INSERT INTO documents (id, owner_id, public_slug, title, description, doc_type, status,
			files_json, allow_download, require_contact, password_hash, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.PublicSlug, d.Title, d.Description, d.DocType, d.Status,
		string(filesJSON), d.AllowDownload, d.RequireContact, d.PasswordHash, fmtTimePtr(d.ExpiresAt),
	)
	return err
}

func GetDocumentByID(database *sql.DB, id string) (*model.Document, error) {
	row := database.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func GetDocumentBySlug(database *sql.DB, slug string) (*model.Document, error) {
	row := database.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE public_slug = ?`, slug)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// GetDocumentByIdentifier resolves either a public slug or a document ID,
// slug first since that is the common public path.
func GetDocumentByIdentifier(database *sql.DB, identifier string) (*model.Document, error) {
	d, err := GetDocumentBySlug(database, identifier)
	if err != nil || d != nil {
		return d, err
	}
	return GetDocumentByID(database, identifier)
}

type DocumentFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

func ListDocumentsByOwner(database *sql.DB, ownerID string, filter DocumentFilter) ([]model.Document, int, error) {
	where := `owner_id = ? AND status != 'deleted'`
	args := []interface{}{ownerID}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += ` AND (title LIKE ? OR description LIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}

	var total int
	if err := database.QueryRow(`SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)

	rows, err := database.Query(
		`SELECT `+documentColumns+` FROM documents WHERE `+where+
			` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *d)
	}
	return docs, total, rows.Err()
}

// ListLiveDocumentIDs returns every non-deleted document ID, for the periodic
// stat rebuild.
func ListLiveDocumentIDs(database *sql.DB) ([]string, error) {
	rows, err := database.Query(`SELECT id FROM documents WHERE status != 'deleted'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func UpdateDocumentMeta(database *sql.DB, d *model.Document) error {
	_, err := database.Exec(
		`UPDATE documents SET title = ?, description = ?, status = ?, allow_download = ?,
			require_contact = ?, password_hash = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		d.Title, d.Description, d.Status, d.AllowDownload,
		d.RequireContact, d.PasswordHash, fmtTimePtr(d.ExpiresAt), fmtTime(time.Now()),
		d.ID,
	)
	return err
}

func UpdateDocumentFiles(database *sql.DB, id string, files model.DocumentFiles) error {
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	_, err = database.Exec(
		`UPDATE documents SET files_json = ?, updated_at = ? WHERE id = ?`,
		string(filesJSON), fmtTime(time.Now()), id,
	)
	return err
}

func UpdateDocumentStatus(database *sql.DB, id, status string) error {
	_, err := database.Exec(
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		status, fmtTime(time.Now()), id,
	)
	return err
}

func MarkDocumentDeleted(database *sql.DB, id string) error {
	return UpdateDocumentStatus(database, id, model.StatusDeleted)
}

// IncrementViewCounters bumps the denormalized counters for one new view in a
// single statement so total and unique can never drift apart mid-update.
func IncrementViewCounters(database *sql.DB, id string, unique bool, viewedAt time.Time) error {
	_, err := database.Exec(
		`UPDATE documents SET
			total_views = total_views + 1,
			unique_views = unique_views + CASE WHEN ? THEN 1 ELSE 0 END,
			last_viewed_at = ?
		 WHERE id = ?`,
		unique, fmtTime(viewedAt), id,
	)
	return err
}

// DecrementUniqueViews floors at zero; the counter is a cache and must never
// go negative even if a retraction races a rebuild.
func DecrementUniqueViews(database *sql.DB, id string) error {
	_, err := database.Exec(
		`UPDATE documents SET
			unique_views = CASE WHEN unique_views > 0 THEN unique_views - 1 ELSE 0 END
		 WHERE id = ?`, id,
	)
	return err
}

func IncrementContactsCollected(database *sql.DB, id string) error {
	_, err := database.Exec(
		`UPDATE documents SET contacts_collected = contacts_collected + 1 WHERE id = ?`, id,
	)
	return err
}

func IncrementDownloads(database *sql.DB, id string) error {
	_, err := database.Exec(
		`UPDATE documents SET total_downloads = total_downloads + 1 WHERE id = ?`, id,
	)
	return err
}

// OverwriteStats replaces every counter with values recomputed from the view
// ledger. Used by stat recalculation, which is the source-of-truth rebuild.
func OverwriteStats(database *sql.DB, id string, stats model.DocumentStats) error {
	_, err := database.Exec(
		`UPDATE documents SET
			total_views = ?, unique_views = ?, total_downloads = ?,
			contacts_collected = ?, last_viewed_at = ?
		 WHERE id = ?`,
		stats.TotalViews, stats.UniqueViews, stats.TotalDownloads,
		stats.ContactsCollected, fmtTimePtr(stats.LastViewedAt),
		id,
	)
	return err
}
