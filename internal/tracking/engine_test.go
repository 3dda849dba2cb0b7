package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	flipshare "github.com/flipshare/flipshare"
	"github.com/flipshare/flipshare/internal/auth"
	"github.com/flipshare/flipshare/internal/db"
	"github.com/flipshare/flipshare/internal/model"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, flipshare.MigrationFS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func seedDocument(t *testing.T, database *sql.DB, requireContact bool) *model.Document {
	t.Helper()
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := &model.Account{
		ID:           uuid.NewString(),
		Email:        uuid.NewString() + "@example.com",
		Name:         "Owner",
		PasswordHash: hash,
	}
	if err := db.CreateAccount(database, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	doc := &model.Document{
		ID:             uuid.NewString(),
		OwnerID:        account.ID,
		PublicSlug:     uuid.NewString()[:10],
		Title:          "Q3 Deck",
		DocType:        model.TypePDF,
		Status:         model.StatusActive,
		Files:          model.DocumentFiles{Version: 1},
		AllowDownload:  true,
		RequireContact: requireContact,
	}
	if err := db.CreateDocument(database, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func reload(t *testing.T, database *sql.DB, id string) *model.Document {
	t.Helper()
	doc, err := db.GetDocumentByID(database, id)
	if err != nil || doc == nil {
		t.Fatalf("reload document: %v", err)
	}
	return doc
}

func TestRecordViewUniqueWindow(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, false)
	e := NewEngine(database, nil)
	ctx := context.Background()

	first, err := e.RecordView(ctx, doc, ViewInput{IP: "203.0.113.5", UserAgent: "Mozilla/5.0"})
	if err != nil {
		t.Fatalf("first view: %v", err)
	}
	if !first.Created || !first.View.IsUnique {
		t.Fatalf("first view: created=%v unique=%v, want both true", first.Created, first.View.IsUnique)
	}

	second, err := e.RecordView(ctx, doc, ViewInput{IP: "203.0.113.5", UserAgent: "Mozilla/5.0"})
	if err != nil {
		t.Fatalf("second view: %v", err)
	}
	if !second.Created {
		t.Fatal("second view with new session should be created")
	}
	if second.View.IsUnique {
		t.Error("second view from same IP inside window should not be unique")
	}

	other, err := e.RecordView(ctx, doc, ViewInput{IP: "198.51.100.7"})
	if err != nil {
		t.Fatalf("other IP view: %v", err)
	}
	if !other.View.IsUnique {
		t.Error("view from a different IP should be unique")
	}

	got := reload(t, database, doc.ID)
	if got.Stats.TotalViews != 3 || got.Stats.UniqueViews != 2 {
		t.Errorf("counters = %d total / %d unique, want 3/2", got.Stats.TotalViews, got.Stats.UniqueViews)
	}
	if got.Stats.LastViewedAt == nil {
		t.Error("last_viewed_at should be set")
	}
}

func TestRecordViewOutsideWindowIsUnique(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, false)
	e := NewEngine(database, nil)
	ctx := context.Background()

	base := time.Now().Add(-25 * time.Hour)
	e.now = func() time.Time { return base }
	if _, err := e.RecordView(ctx, doc, ViewInput{IP: "203.0.113.5"}); err != nil {
		t.Fatalf("old view: %v", err)
	}

	e.now = time.Now
	res, err := e.RecordView(ctx, doc, ViewInput{IP: "203.0.113.5"})
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	if !res.View.IsUnique {
		t.Error("view after the window expired should be unique again")
	}
}

func TestRecordViewSameSessionReturnsExisting(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, false)
	e := NewEngine(database, nil)
	ctx := context.Background()

	first, err := e.RecordView(ctx, doc, ViewInput{SessionID: "sess-1", IP: "203.0.113.5"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	repeat, err := e.RecordView(ctx, doc, ViewInput{SessionID: "sess-1", IP: "203.0.113.5"})
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if repeat.Created {
		t.Error("repeat call with same session should not create a view")
	}
	if repeat.View.ID != first.View.ID {
		t.Error("repeat call should return the original view")
	}

	got := reload(t, database, doc.ID)
	if got.Stats.TotalViews != 1 {
		t.Errorf("total views = %d, want 1", got.Stats.TotalViews)
	}
}

func TestSubmitContactRetractsRepeatVisitor(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, true)
	e := NewEngine(database, nil)
	ctx := context.Background()

	// Two devices, two IPs: both provisionally unique.
	if _, err := e.RecordView(ctx, doc, ViewInput{SessionID: "phone", IP: "203.0.113.5"}); err != nil {
		t.Fatalf("view 1: %v", err)
	}
	if _, err := e.RecordView(ctx, doc, ViewInput{SessionID: "laptop", IP: "198.51.100.7"}); err != nil {
		t.Fatalf("view 2: %v", err)
	}

	res1, err := e.SubmitContact(ctx, doc, "phone", "Ada Lovelace", "+44 700 900123")
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if !res1.NewContact || res1.Retracted {
		t.Fatalf("submit 1: newContact=%v retracted=%v, want true/false", res1.NewContact, res1.Retracted)
	}

	// Same person from the other device. Name matching is case and
	// whitespace insensitive.
	res2, err := e.SubmitContact(ctx, doc, "laptop", "  ada LOVELACE ", "+44 700 900123")
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if res2.NewContact {
		t.Error("submit 2 should not count as a new contact")
	}
	if !res2.Retracted {
		t.Error("submit 2 should retract the provisional unique flag")
	}

	got := reload(t, database, doc.ID)
	if got.Stats.UniqueViews != 1 {
		t.Errorf("unique views = %d, want 1 after retraction", got.Stats.UniqueViews)
	}
	if got.Stats.ContactsCollected != 1 {
		t.Errorf("contacts = %d, want 1", got.Stats.ContactsCollected)
	}
}

func TestSubmitContactResubmissionDoesNotDoubleCount(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, true)
	e := NewEngine(database, nil)
	ctx := context.Background()

	if _, err := e.RecordView(ctx, doc, ViewInput{SessionID: "s1", IP: "203.0.113.5"}); err != nil {
		t.Fatalf("view: %v", err)
	}

	if _, err := e.SubmitContact(ctx, doc, "s1", "Grace Hopper", "555-0100"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := e.SubmitContact(ctx, doc, "s1", "Grace Hopper", "555-0100")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.NewContact {
		t.Error("resubmission on the same view should not be a new contact")
	}
	if res.Retracted {
		t.Error("resubmission must not match against its own view")
	}

	got := reload(t, database, doc.ID)
	if got.Stats.ContactsCollected != 1 {
		t.Errorf("contacts = %d, want 1", got.Stats.ContactsCollected)
	}
	if got.Stats.UniqueViews != 1 {
		t.Errorf("unique views = %d, want 1", got.Stats.UniqueViews)
	}
}

func TestSubmitContactValidation(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, true)
	e := NewEngine(database, nil)
	ctx := context.Background()

	if _, err := e.RecordView(ctx, doc, ViewInput{SessionID: "s1", IP: "203.0.113.5"}); err != nil {
		t.Fatalf("view: %v", err)
	}

	cases := []struct {
		name, contact, mobile string
	}{
		{"empty name", "", "555-0100"},
		{"empty mobile", "Ada", ""},
		{"whitespace name", "   ", "555-0100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.SubmitContact(ctx, doc, "s1", tc.contact, tc.mobile); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := e.SubmitContact(ctx, doc, "no-such-session", "Ada", "555-0100"); err != ErrViewNotFound {
		t.Errorf("unknown session: got %v, want ErrViewNotFound", err)
	}
}

// TestSubmitContactConcurrentSameIdentity drives the race the per-document
// serialization exists for: many views submitting the same identity at once
// must produce exactly one counted contact and exactly one surviving unique
// view, with no double decrements.
func TestSubmitContactConcurrentSameIdentity(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, true)
	e := NewEngine(database, nil)
	ctx := context.Background()

	const n = 8
	for i := 0; i < n; i++ {
		in := ViewInput{
			SessionID: fmt.Sprintf("sess-%d", i),
			IP:        fmt.Sprintf("203.0.113.%d", i+1),
		}
		if _, err := e.RecordView(ctx, doc, in); err != nil {
			t.Fatalf("view %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	newContacts := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.SubmitContact(ctx, doc, fmt.Sprintf("sess-%d", i), "Same Person", "555-0199")
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			newContacts <- res.NewContact
		}(i)
	}
	wg.Wait()
	close(newContacts)

	counted := 0
	for isNew := range newContacts {
		if isNew {
			counted++
		}
	}
	if counted != 1 {
		t.Errorf("new contacts = %d, want exactly 1", counted)
	}

	got := reload(t, database, doc.ID)
	if got.Stats.ContactsCollected != 1 {
		t.Errorf("contacts counter = %d, want 1", got.Stats.ContactsCollected)
	}
	if got.Stats.UniqueViews != 1 {
		t.Errorf("unique views = %d, want 1", got.Stats.UniqueViews)
	}

	// The counters must agree with a ground-up rebuild.
	rebuilt, err := db.ComputeLedgerStats(database, doc.ID)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.UniqueViews != got.Stats.UniqueViews || rebuilt.ContactsCollected != got.Stats.ContactsCollected {
		t.Errorf("ledger rebuild disagrees: %+v vs counters %+v", rebuilt, got.Stats)
	}
}

func TestRecordDownload(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, false)
	e := NewEngine(database, nil)
	ctx := context.Background()

	t.Run("attributes to session view", func(t *testing.T) {
		res, err := e.RecordView(ctx, doc, ViewInput{SessionID: "s1", IP: "203.0.113.5"})
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		view, err := e.RecordDownload(ctx, doc, ViewInput{SessionID: "s1", IP: "203.0.113.5"})
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		if view.ID != res.View.ID {
			t.Error("download should attach to the session's view")
		}
	})

	t.Run("creates view when nothing to attribute", func(t *testing.T) {
		before := reload(t, database, doc.ID).Stats.TotalViews
		if _, err := e.RecordDownload(ctx, doc, ViewInput{IP: "198.51.100.9"}); err != nil {
			t.Fatalf("download: %v", err)
		}
		after := reload(t, database, doc.ID)
		if after.Stats.TotalViews != before+1 {
			t.Errorf("total views = %d, want %d (download created a view)", after.Stats.TotalViews, before+1)
		}
		if after.Stats.TotalDownloads != 2 {
			t.Errorf("downloads = %d, want 2", after.Stats.TotalDownloads)
		}
	})
}

func TestUnlockVideo(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, true)
	e := NewEngine(database, nil)
	ctx := context.Background()

	if _, err := e.RecordView(ctx, doc, ViewInput{SessionID: "s1", IP: "203.0.113.5"}); err != nil {
		t.Fatalf("view: %v", err)
	}

	if _, err := e.UnlockVideo(ctx, doc, "s1"); err != ErrContactRequired {
		t.Fatalf("unlock before contact: got %v, want ErrContactRequired", err)
	}

	if _, err := e.SubmitContact(ctx, doc, "s1", "Ada", "555-0100"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	view, err := e.UnlockVideo(ctx, doc, "s1")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !view.VideoUnlocked || view.VideoUnlockedAt == nil {
		t.Error("view should be unlocked with a timestamp")
	}

	// Attempted unlock before contact must be in the event log.
	events, err := db.ListEventsByView(database, view.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var attempted, unlocked bool
	for _, ev := range events {
		switch ev.Kind {
		case model.EventAttemptedUnlock:
			attempted = true
		case model.EventVideoUnlocked:
			unlocked = true
		}
	}
	if !attempted || !unlocked {
		t.Errorf("event log: attempted=%v unlocked=%v, want both", attempted, unlocked)
	}
}

func TestRecalculateStatsIdempotentAndCorrectsDrift(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, false)
	e := NewEngine(database, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := ViewInput{IP: fmt.Sprintf("203.0.113.%d", i+1)}
		if _, err := e.RecordView(ctx, doc, in); err != nil {
			t.Fatalf("view %d: %v", i, err)
		}
	}

	// Corrupt the cached counters.
	if _, err := database.Exec(`UPDATE documents SET total_views = 99, unique_views = 99 WHERE id = ?`, doc.ID); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	doc = reload(t, database, doc.ID)

	res, err := e.RecalculateStats(ctx, doc)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !res.Drifted {
		t.Error("rebuild over corrupted counters should report drift")
	}
	if res.Stats.TotalViews != 3 || res.Stats.UniqueViews != 3 {
		t.Errorf("rebuilt stats = %d/%d, want 3/3", res.Stats.TotalViews, res.Stats.UniqueViews)
	}

	again, err := e.RecalculateStats(ctx, reload(t, database, doc.ID))
	if err != nil {
		t.Fatalf("second recalculate: %v", err)
	}
	if again.Drifted {
		t.Error("second rebuild should find nothing to correct")
	}
	if again.Stats.TotalViews != res.Stats.TotalViews ||
		again.Stats.UniqueViews != res.Stats.UniqueViews ||
		again.Stats.TotalDownloads != res.Stats.TotalDownloads ||
		again.Stats.ContactsCollected != res.Stats.ContactsCollected {
		t.Errorf("rebuild not idempotent: %+v vs %+v", again.Stats, res.Stats)
	}
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	database := setupDB(t)
	doc := seedDocument(t, database, false)

	for i := 0; i < 3; i++ {
		if err := db.DecrementUniqueViews(database, doc.ID); err != nil {
			t.Fatalf("decrement: %v", err)
		}
	}
	got := reload(t, database, doc.ID)
	if got.Stats.UniqueViews != 0 {
		t.Errorf("unique views = %d, want 0 (floored)", got.Stats.UniqueViews)
	}
}
