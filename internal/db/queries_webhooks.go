package db

import (
	"database/sql"
	"time"

	"github.com/flipshare/flipshare/internal/model"
)

func CreateWebhook(database *sql.DB, w *model.Webhook) error {
	_, err := database.Exec(
		`INSERT INTO webhooks (id, account_id, url, secret, events, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.AccountID, w.URL, w.Secret, w.Events, w.Enabled,
	)
	return err
}

func GetWebhook(database *sql.DB, accountID, id string) (*model.Webhook, error) {
	w := &model.Webhook{}
	var createdAt SQLiteTime
	err := database.QueryRow(
		`SELECT id, account_id, url, secret, events, enabled, created_at
		 FROM webhooks WHERE id = ? AND account_id = ?`, id, accountID,
	).Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.Events, &w.Enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	w.CreatedAt = createdAt.Time
	return w, err
}

func ListWebhooks(database *sql.DB, accountID string) ([]model.Webhook, error) {
	rows, err := database.Query(
		`SELECT id, account_id, url, secret, events, enabled, created_at
		 FROM webhooks WHERE account_id = ? ORDER BY created_at ASC`, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []model.Webhook
	for rows.Next() {
		var w model.Webhook
		var createdAt SQLiteTime
		if err := rows.Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.Events, &w.Enabled, &createdAt); err != nil {
			return nil, err
		}
		w.CreatedAt = createdAt.Time
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// ListEnabledWebhooks returns enabled hooks whose event filter is empty (all
// events) or contains the given type.
func ListEnabledWebhooks(database *sql.DB, accountID, eventType string) ([]model.Webhook, error) {
	rows, err := database.Query(
		`SELECT id, account_id, url, secret, events, enabled, created_at
		 FROM webhooks
		 WHERE account_id = ? AND enabled = 1
		   AND (events = '' OR ',' || events || ',' LIKE '%,' || ? || ',%')`,
		accountID, eventType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []model.Webhook
	for rows.Next() {
		var w model.Webhook
		var createdAt SQLiteTime
		if err := rows.Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.Events, &w.Enabled, &createdAt); err != nil {
			return nil, err
		}
		w.CreatedAt = createdAt.Time
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func DeleteWebhook(database *sql.DB, accountID, id string) error {
	_, err := database.Exec(`DELETE FROM webhooks WHERE id = ? AND account_id = ?`, id, accountID)
	return err
}

func CreateWebhookDelivery(database *sql.DB, d *model.WebhookDelivery) error {
	_, err := database.Exec(
		`INSERT INTO webhook_deliveries (id, webhook_id, event_type, event_id, payload_json,
			attempt_number, state, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.EventType, d.EventID, d.PayloadJSON,
		d.AttemptNumber, d.State, fmtTimePtr(d.NextRetryAt),
	)
	return err
}

func UpdateWebhookDelivery(database *sql.DB, d *model.WebhookDelivery) error {
	_, err := database.Exec(
		`UPDATE webhook_deliveries SET attempt_number = ?, response_status = ?,
			response_body_preview = ?, error_message = ?, state = ?,
			next_retry_at = ?, delivered_at = ?
		 WHERE id = ?`,
		d.AttemptNumber, d.ResponseStatus, d.ResponseBodyPreview, d.ErrorMessage,
		d.State, fmtTimePtr(d.NextRetryAt), fmtTimePtr(d.DeliveredAt),
		d.ID,
	)
	return err
}

// PruneOldWebhookDeliveries drops delivery records older than the cutoff.
func PruneOldWebhookDeliveries(database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.Exec(
		`DELETE FROM webhook_deliveries WHERE created_at < ?`, fmtTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListDueWebhookDeliveries returns pending deliveries whose retry time has
// passed.
func ListDueWebhookDeliveries(database *sql.DB, now time.Time, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(
		`SELECT id, webhook_id, event_type, event_id, payload_json, attempt_number,
			response_status, response_body_preview, error_message, state,
			next_retry_at, delivered_at, created_at
		 FROM webhook_deliveries
		 WHERE state IN ('pending', 'failed') AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY created_at ASC LIMIT ?`,
		fmtTime(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var nextRetry, deliveredAt *string
		var createdAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.EventID, &d.PayloadJSON,
			&d.AttemptNumber, &d.ResponseStatus, &d.ResponseBodyPreview, &d.ErrorMessage,
			&d.State, &nextRetry, &deliveredAt, &createdAt); err != nil {
			return nil, err
		}
		d.NextRetryAt = parseTimePtr(nextRetry)
		d.DeliveredAt = parseTimePtr(deliveredAt)
		d.CreatedAt = createdAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}
