package model

import "time"

type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Enabled      bool
	CreatedAt    time.Time
}

type Session struct {
	ID        string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type APIKey struct {
	ID         string
	AccountID  string
	Name       string
	KeyPrefix  string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Document lifecycle states.
const (
	StatusProcessing = "processing"
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusError      = "error"
	StatusDeleted    = "deleted"
)

// Document types.
const (
	TypePDF   = "pdf"
	TypeVideo = "video"
)

// FileRef points at an object stored on the media host.
type FileRef struct {
	URL          string `json:"url,omitempty"`
	PublicID     string `json:"public_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Format       string `json:"format,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

// Hyperlink is a clickable overlay region on a PDF page.
type Hyperlink struct {
	Text   string  `json:"text,omitempty"`
	URL    string  `json:"url"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Kind   string  `json:"kind,omitempty"` // url | email | internal
}

type PDFPage struct {
	Page       int         `json:"page"`
	Hyperlinks []Hyperlink `json:"hyperlinks,omitempty"`
}

type PDFFile struct {
	Original FileRef   `json:"original"`
	Pages    []PDFPage `json:"pages,omitempty"`
}

type VideoFormats struct {
	MP4    string `json:"mp4,omitempty"`
	WebM   string `json:"webm,omitempty"`
	Mobile string `json:"mobile,omitempty"`
}

type VideoFile struct {
	Original  FileRef      `json:"original"`
	Formats   VideoFormats `json:"formats"`
	Thumbnail string       `json:"thumbnail,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	Width     int          `json:"width,omitempty"`
	Height    int          `json:"height,omitempty"`
}

// DocumentFiles is the single canonical file layout persisted as JSON on the
// document row. Version is bumped on layout changes so old rows can be
// migrated in one pass instead of keeping parallel legacy fields around.
type DocumentFiles struct {
	Version int        `json:"version"`
	PDF     *PDFFile   `json:"pdf,omitempty"`
	Video   *VideoFile `json:"video,omitempty"`
}

// DocumentStats is a denormalized cache over the view ledger. The ledger is
// the source of truth; these counters can be rebuilt at any time.
type DocumentStats struct {
	TotalViews        int
	UniqueViews       int
	TotalDownloads    int
	ContactsCollected int
	LastViewedAt      *time.Time
}

type Document struct {
	ID             string
	OwnerID        string
	PublicSlug     string
	Title          string
	Description    string
	DocType        string
	Status         string
	Files          DocumentFiles
	AllowDownload  bool
	RequireContact bool
	PasswordHash   *string
	ExpiresAt      *time.Time
	Stats          DocumentStats
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Accessible reports whether the document can be served to the public. The
// expiry check happens at read time; there is no deletion sweep.
func (d *Document) Accessible(now time.Time) bool {
	if d.Status != StatusActive {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	return true
}

type Geo struct {
	Country  string  `json:"country,omitempty"`
	Region   string  `json:"region,omitempty"`
	City     string  `json:"city,omitempty"`
	Timezone string  `json:"timezone,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
}

type Device struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Family  string `json:"family,omitempty"`
	Mobile  bool   `json:"mobile"`
}

// Event kinds appended to a view's event log.
const (
	EventView            = "view"
	EventPageTurn        = "page_turn"
	EventVideoPlay       = "video_play"
	EventDownload        = "download"
	EventContactSubmit   = "contact_submit"
	EventVideoUnlocked   = "video_unlocked"
	EventAttemptedUnlock = "attempted_unlock"
)

// View is one tracked browsing session against one document. Request facts
// are captured once at creation and never re-derived. IsUnique starts as a
// provisional classification and may be retracted later by contact
// reconciliation; once false it never reverts.
type View struct {
	ID                 string
	DocumentID         string
	SessionID          string
	IPAddress          string
	UserAgent          string
	Referrer           string
	Geo                *Geo
	Device             *Device
	SubmittedName      string
	SubmittedMobile    string
	ContactSubmittedAt *time.Time
	VideoUnlocked      bool
	VideoUnlockedAt    *time.Time
	IsUnique           bool
	CreatedAt          time.Time
}

type ViewEvent struct {
	ID          string
	ViewID      string
	DocumentID  string
	Kind        string
	PayloadJSON string
	CreatedAt   time.Time
}

type Webhook struct {
	ID        string
	AccountID string
	URL       string
	Secret    string
	Events    string
	Enabled   bool
	CreatedAt time.Time
}

type WebhookDelivery struct {
	ID                  string
	WebhookID           string
	EventType           string
	EventID             string
	PayloadJSON         string
	AttemptNumber       int
	ResponseStatus      *int
	ResponseBodyPreview string
	ErrorMessage        string
	State               string
	NextRetryAt         *time.Time
	DeliveredAt         *time.Time
	CreatedAt           time.Time
}
