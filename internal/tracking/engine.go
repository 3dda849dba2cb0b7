// Package tracking owns the view ledger: recording views, appending events,
// contact capture with uniqueness reconciliation, and counter rebuilds.
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/device"
	"github.com/flipshare/flipshare/internal/geo"
	"github.com/flipshare/flipshare/internal/model"
)

var (
	ErrViewNotFound    = errors.New("view not found")
	ErrValidation      = errors.New("invalid input")
	ErrContactRequired = errors.New("contact details required")
)

const (
	// UniqueWindow is how long one IP keeps suppressing the unique flag on
	// later views of the same document.
	UniqueWindow = 24 * time.Hour

	// downloadAttributionWindow bounds how old a view can be and still have
	// an untracked download attributed to it.
	downloadAttributionWindow = time.Hour
)

type Engine struct {
	db    *sql.DB
	geo   geo.Provider
	locks *keyedMutex
	now   func() time.Time
}

func NewEngine(database *sql.DB, geoProvider geo.Provider) *Engine {
	return &Engine{
		db:    database,
		geo:   geoProvider,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// ViewInput carries the request facts captured at view creation.
type ViewInput struct {
	SessionID string
	IP        string
	UserAgent string
	Referrer  string
	// ClientGeo, when set, overrides IP-based resolution. Browsers behind
	// proxies can report a more accurate location themselves.
	ClientGeo *model.Geo
}

// ViewResult reports the view and whether this call created it.
type ViewResult struct {
	View    *model.View
	Created bool
}

// RecordView registers a view of the document. A repeat call with the same
// session returns the existing view untouched. A new view is classified
// unique only if the IP has not viewed this document inside UniqueWindow;
// the classification is provisional and may be retracted by SubmitContact.
func (e *Engine) RecordView(ctx context.Context, doc *model.Document, in ViewInput) (*ViewResult, error) {
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	existing, err := db.GetViewBySession(e.db, doc.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session view: %w", err)
	}
	if existing != nil {
		return &ViewResult{View: existing}, nil
	}

	now := e.now()
	seen, err := db.HasRecentViewFromIP(e.db, doc.ID, in.IP, now.Add(-UniqueWindow))
	if err != nil {
		return nil, fmt.Errorf("check recent views: %w", err)
	}

	v := &model.View{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		SessionID:  sessionID,
		IPAddress:  in.IP,
		UserAgent:  in.UserAgent,
		Referrer:   in.Referrer,
		Device:     device.Classify(in.UserAgent),
		IsUnique:   !seen,
		CreatedAt:  now,
	}

	v.Geo = in.ClientGeo
	if v.Geo == nil && e.geo != nil {
		g, err := e.geo.Lookup(ctx, in.IP)
		if err != nil {
			slog.Warn("geo lookup failed", "ip", in.IP, "error", err)
		} else {
			v.Geo = g
		}
	}

	if err := db.InsertView(e.db, v); err != nil {
		return nil, fmt.Errorf("insert view: %w", err)
	}
	if err := e.appendEvent(v, model.EventView, ""); err != nil {
		return nil, err
	}
	if err := db.IncrementViewCounters(e.db, doc.ID, v.IsUnique, now); err != nil {
		return nil, fmt.Errorf("bump counters: %w", err)
	}

	return &ViewResult{View: v, Created: true}, nil
}

// RecordEvent appends an engagement event (page turns, video plays) to an
// existing view.
func (e *Engine) RecordEvent(ctx context.Context, doc *model.Document, sessionID, kind, payloadJSON string) error {
	switch kind {
	case model.EventPageTurn, model.EventVideoPlay:
	default:
		return fmt.Errorf("%w: unsupported event kind %q", ErrValidation, kind)
	}
	view, err := db.GetViewBySession(e.db, doc.ID, sessionID)
	if err != nil {
		return fmt.Errorf("lookup session view: %w", err)
	}
	if view == nil {
		return ErrViewNotFound
	}
	return e.appendEvent(view, kind, payloadJSON)
}

// ContactResult reports what SubmitContact did.
type ContactResult struct {
	View *model.View
	// NewContact is true when this identity had not been seen on the
	// document before.
	NewContact bool
	// Retracted is true when this submission revealed the view to be a
	// repeat visitor and its unique flag was withdrawn.
	Retracted bool
}

// SubmitContact records the viewer's contact details and reconciles
// uniqueness: if the same identity already appears on another view of this
// document, this view's provisional unique flag is retracted and the unique
// counter decremented, exactly once. All submissions for one document are
// serialized so two first-time submissions of the same identity cannot both
// count as new.
func (e *Engine) SubmitContact(ctx context.Context, doc *model.Document, sessionID, name, mobile string) (*ContactResult, error) {
	name = strings.TrimSpace(name)
	mobile = strings.TrimSpace(mobile)
	if name == "" || mobile == "" {
		return nil, fmt.Errorf("%w: name and mobile are required", ErrValidation)
	}

	e.locks.Lock(doc.ID)
	defer e.locks.Unlock(doc.ID)

	view, err := db.GetViewBySession(e.db, doc.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session view: %w", err)
	}
	if view == nil {
		return nil, ErrViewNotFound
	}

	// Captured before the update so a resubmission on the same view cannot
	// double-count the contact.
	firstSubmission := view.SubmittedName == ""

	known, err := db.ContactExists(e.db, doc.ID, name, mobile, view.ID)
	if err != nil {
		return nil, fmt.Errorf("check contact identity: %w", err)
	}

	retracted := false
	if known && view.IsUnique {
		retracted, err = db.RetractUniqueView(e.db, view.ID)
		if err != nil {
			return nil, fmt.Errorf("retract unique flag: %w", err)
		}
		if retracted {
			if err := db.DecrementUniqueViews(e.db, doc.ID); err != nil {
				return nil, fmt.Errorf("decrement unique counter: %w", err)
			}
			view.IsUnique = false
		}
	}

	now := e.now()
	if err := db.UpdateViewContact(e.db, view.ID, name, mobile, now); err != nil {
		return nil, fmt.Errorf("store contact: %w", err)
	}
	view.SubmittedName = name
	view.SubmittedMobile = mobile
	view.ContactSubmittedAt = &now

	if err := e.appendEvent(view, model.EventContactSubmit, ""); err != nil {
		return nil, err
	}

	newContact := !known && firstSubmission
	if newContact {
		if err := db.IncrementContactsCollected(e.db, doc.ID); err != nil {
			return nil, fmt.Errorf("bump contacts counter: %w", err)
		}
	}

	return &ContactResult{View: view, NewContact: newContact, Retracted: retracted}, nil
}

// RecordDownload attributes a download to the session's view, or failing
// that to a recent view from the same IP, or creates a view so the download
// still lands in the ledger. The counter stays rebuildable from download
// events either way.
func (e *Engine) RecordDownload(ctx context.Context, doc *model.Document, in ViewInput) (*model.View, error) {
	view, err := db.GetViewBySession(e.db, doc.ID, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session view: %w", err)
	}
	if view == nil {
		view, err = db.GetRecentViewFromIP(e.db, doc.ID, in.IP, e.now().Add(-downloadAttributionWindow))
		if err != nil {
			return nil, fmt.Errorf("lookup recent view: %w", err)
		}
	}
	if view == nil {
		res, err := e.RecordView(ctx, doc, in)
		if err != nil {
			return nil, err
		}
		view = res.View
	}

	if err := e.appendEvent(view, model.EventDownload, ""); err != nil {
		return nil, err
	}
	if err := db.IncrementDownloads(e.db, doc.ID); err != nil {
		return nil, fmt.Errorf("bump downloads counter: %w", err)
	}
	return view, nil
}

// UnlockVideo grants playback on a gated video. When the document requires
// contact capture and the view has none, the attempt is logged and refused.
func (e *Engine) UnlockVideo(ctx context.Context, doc *model.Document, sessionID string) (*model.View, error) {
	view, err := db.GetViewBySession(e.db, doc.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session view: %w", err)
	}
	if view == nil {
		return nil, ErrViewNotFound
	}

	if doc.RequireContact && view.SubmittedName == "" {
		if err := e.appendEvent(view, model.EventAttemptedUnlock, ""); err != nil {
			return nil, err
		}
		return nil, ErrContactRequired
	}

	now := e.now()
	unlocked, err := db.UnlockVideo(e.db, view.ID, now)
	if err != nil {
		return nil, fmt.Errorf("unlock video: %w", err)
	}
	if unlocked {
		view.VideoUnlocked = true
		view.VideoUnlockedAt = &now
		if err := e.appendEvent(view, model.EventVideoUnlocked, ""); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// RecalcResult reports a counter rebuild, keeping the replaced values for
// drift inspection.
type RecalcResult struct {
	Stats    model.DocumentStats
	Previous model.DocumentStats
	Drifted  bool
}

// RecalculateStats rebuilds the document counters from the ledger. Running it
// twice in a row yields identical results.
func (e *Engine) RecalculateStats(ctx context.Context, doc *model.Document) (*RecalcResult, error) {
	e.locks.Lock(doc.ID)
	defer e.locks.Unlock(doc.ID)

	stats, err := db.ComputeLedgerStats(e.db, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("compute ledger stats: %w", err)
	}
	if err := db.OverwriteStats(e.db, doc.ID, stats); err != nil {
		return nil, fmt.Errorf("overwrite stats: %w", err)
	}

	prev := doc.Stats
	drifted := prev.TotalViews != stats.TotalViews ||
		prev.UniqueViews != stats.UniqueViews ||
		prev.TotalDownloads != stats.TotalDownloads ||
		prev.ContactsCollected != stats.ContactsCollected
	if drifted {
		slog.Info("stat rebuild corrected drift",
			"document", doc.ID,
			"total", fmt.Sprintf("%d->%d", prev.TotalViews, stats.TotalViews),
			"unique", fmt.Sprintf("%d->%d", prev.UniqueViews, stats.UniqueViews),
			"downloads", fmt.Sprintf("%d->%d", prev.TotalDownloads, stats.TotalDownloads),
			"contacts", fmt.Sprintf("%d->%d", prev.ContactsCollected, stats.ContactsCollected))
	}
	doc.Stats = stats
	return &RecalcResult{Stats: stats, Previous: prev, Drifted: drifted}, nil
}

func (e *Engine) appendEvent(view *model.View, kind, payloadJSON string) error {
	err := db.InsertViewEvent(e.db, &model.ViewEvent{
		ID:          uuid.NewString(),
		ViewID:      view.ID,
		DocumentID:  view.DocumentID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}
