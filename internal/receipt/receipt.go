package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record represents a scanned receipt with metadata. A Record whose amount
// has not been confirmed yet is a draft; drafts carry no stored flag — the
// capture workflow holds the draft id and deletes the record on every exit
// path that is not a save.
type Record struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ImageRef  string          `json:"image_ref"` // opaque storage path of the photo
	Amount    decimal.Decimal `json:"amount"`    // base currency units
	RawText   string          `json:"raw_text,omitempty"`
	ScannedAt time.Time       `json:"scanned_at"`
	Synced    bool            `json:"synced"` // owned by the external sync collaborator
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SuggestionKind classifies what the OCR pass produced for the user to
// decide on.
type SuggestionKind int

const (
	// SuggestionNone means OCR returned no usable text. The user may
	// confirm a zero amount, enter one manually, or rescan.
	SuggestionNone SuggestionKind = iota
	// SuggestionInvalid means text was present but no plausible amount was
	// found. Confirm is not offered; only manual entry or rescan.
	SuggestionInvalid
	// SuggestionAmount means a valid amount was extracted and can be
	// confirmed as-is.
	SuggestionAmount
)

// Suggestion is the decision point presented to the user after OCR.
type Suggestion struct {
	Kind    SuggestionKind  `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	RawText string          `json:"raw_text,omitempty"`
}

// PendingCapture is the single in-memory capture session. It is owned
// exclusively by the Workflow, replaced wholesale on each new capture and
// cleared on save or discard. Never persisted.
type PendingCapture struct {
	DraftID    string
	ImageRef   string
	RawText    string
	Suggestion Suggestion
}
