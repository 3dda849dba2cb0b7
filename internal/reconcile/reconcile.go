// Package reconcile runs the periodic safety net: rebuilding document
// counters from the view ledger, retrying due webhook deliveries, and pruning
// old delivery records. Incremental counter updates are correct on their own;
// this loop exists so operator intervention after a crash is never needed.
package reconcile

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/tracking"
	"github.com/flipshare/flipshare/internal/webhook"
)

const deliveryRetention = 90 * 24 * time.Hour

type Reconciler struct {
	DB       *sql.DB
	Engine   *tracking.Engine
	Webhooks *webhook.Dispatcher
	Interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	slog.Info("reconcile scheduler started", "interval", r.Interval)
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	slog.Info("reconcile scheduler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	ids, err := db.ListLiveDocumentIDs(r.DB)
	if err != nil {
		slog.Error("reconcile: list documents", "error", err)
	} else {
		drifted := 0
		for _, id := range ids {
			doc, err := db.GetDocumentByID(r.DB, id)
			if err != nil || doc == nil {
				continue
			}
			res, err := r.Engine.RecalculateStats(ctx, doc)
			if err != nil {
				slog.Error("reconcile: rebuild stats", "document", id, "error", err)
				continue
			}
			if res.Drifted {
				drifted++
			}
		}
		if drifted > 0 {
			slog.Info("reconcile: corrected drifted counters", "documents", drifted)
		}
	}

	r.Webhooks.RetryDue()

	cutoff := time.Now().Add(-deliveryRetention)
	if n, err := db.PruneOldWebhookDeliveries(r.DB, cutoff); err != nil {
		slog.Error("reconcile: prune webhook deliveries", "error", err)
	} else if n > 0 {
		slog.Info("reconcile: pruned old webhook deliveries", "count", n)
	}
}
