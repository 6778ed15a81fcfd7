package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AhmedIkram05/StockLens-sub000/internal/events"
	"github.com/AhmedIkram05/StockLens-sub000/internal/scanning"
)

// State identifies where the capture workflow is in its cycle.
type State int

const (
	// StateIdle means no capture session is active.
	StateIdle State = iota
	// StateCapturing means a photo arrived and its draft is being created.
	StateCapturing
	// StateAwaitingOCR means the photo was submitted to the recognizer.
	StateAwaitingOCR
	// StateDeciding means a suggestion is parked, waiting on the user.
	StateDeciding
)

var (
	// ErrCaptureInProgress is returned when a capture is triggered while an
	// earlier one has not reached a decision point yet.
	ErrCaptureInProgress = errors.New("a capture is already in progress")

	// ErrNoPendingCapture is returned by decision operations when nothing is
	// awaiting a decision.
	ErrNoPendingCapture = errors.New("no capture is awaiting a decision")

	// ErrAmountRejected is returned by Confirm when the suggested amount
	// failed validation; confirm is not offered for a rejected amount.
	ErrAmountRejected = errors.New("suggested amount failed validation")

	// ErrInvalidManualAmount is returned when a manually entered amount does
	// not parse to a positive number. The workflow stays in its decision
	// state so the user can be re-prompted.
	ErrInvalidManualAmount = errors.New("manual amount must be a positive number")
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// defaultOCRTimeout bounds the recognizer call; past it the capture proceeds
// as if no text was detected.
const defaultOCRTimeout = 30 * time.Second

// Workflow sequences photo capture, OCR, amount validation, user
// confirmation and persistence of the receipt record. At most one capture
// session is active at a time; the single pending slot is the guard.
type Workflow struct {
	db         DB
	storage    Storage
	recognizer scanning.Recognizer
	publisher  events.Publisher
	rules      scanning.AmountRules
	ocrTimeout time.Duration

	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	state   State
	pending *PendingCapture
}

// NewWorkflow creates a Workflow with default rules, ID generator and clock
func NewWorkflow(db DB, storage Storage, recognizer scanning.Recognizer, publisher events.Publisher) *Workflow {
	return &Workflow{
		db:          db,
		storage:     storage,
		recognizer:  recognizer,
		publisher:   publisher,
		rules:       scanning.DefaultAmountRules(),
		ocrTimeout:  defaultOCRTimeout,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewWorkflowWithDeps creates a Workflow with custom dependencies for testing
func NewWorkflowWithDeps(db DB, storage Storage, recognizer scanning.Recognizer, publisher events.Publisher, rules scanning.AmountRules, idGen IDGenerator, timeSrc TimeSource) *Workflow {
	w := NewWorkflow(db, storage, recognizer, publisher)
	w.rules = rules
	w.idGenerator = idGen
	w.timeSource = timeSrc
	return w
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending returns a copy of the active capture session, or nil.
func (w *Workflow) Pending() *PendingCapture {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return nil
	}
	pending := *w.pending
	return &pending
}

// sanitizeFilename cleans up a photo filename by removing special characters
// and truncating the phone-generated long names
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessReceipt runs one capture cycle up to its decision point: the photo
// is stored, a draft record is created immediately so the image is never
// orphaned, the recognizer is invoked under a bounded timeout, and the
// extracted amount is validated into a Suggestion. OCR failure is treated
// identically to empty text so the user always gets a decision point.
//
// A second trigger while a capture is in flight returns
// ErrCaptureInProgress.
func (w *Workflow) ProcessReceipt(ctx context.Context, userID, filename string, photo []byte, contentType string) (*Suggestion, error) {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	w.state = StateCapturing
	w.mu.Unlock()

	id := w.idGenerator.Generate()
	now := w.timeSource.Now()

	ref, err := w.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), photo)
	if err != nil {
		w.reset()
		return nil, fmt.Errorf("saving photo: %w", err)
	}

	draft := &Record{
		ID:        id,
		UserID:    userID,
		ImageRef:  ref,
		Amount:    decimal.Zero,
		ScannedAt: now,
		Synced:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.db.SaveReceipt(draft); err != nil {
		if derr := w.storage.Delete(ref); derr != nil {
			slog.Warn("Failed to delete photo after draft save failure", "ref", ref, "error", derr)
		}
		w.reset()
		return nil, fmt.Errorf("saving draft receipt: %w", err)
	}

	w.mu.Lock()
	w.pending = &PendingCapture{DraftID: id, ImageRef: ref}
	w.state = StateAwaitingOCR
	w.mu.Unlock()

	ocrCtx, cancel := context.WithTimeout(ctx, w.ocrTimeout)
	defer cancel()

	text, err := w.recognizer.Recognize(ocrCtx, photo, contentType)
	if err != nil {
		slog.Warn("OCR failed, continuing with empty text",
			"draft_id", id,
			"content_type", contentType,
			"error", err,
		)
		text = ""
	}

	suggestion := w.evaluate(text)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil || w.pending.DraftID != id {
		// The session was discarded while OCR was in flight; drop the result
		// and make sure this capture's own draft and photo are gone. The
		// discard usually removed them already, so both deletes are
		// best effort.
		if err := w.db.DeleteReceipt(id); err != nil {
			slog.Warn("Failed to delete superseded draft", "draft_id", id, "error", err)
		}
		if err := w.storage.Delete(ref); err != nil {
			slog.Warn("Failed to delete superseded draft photo", "ref", ref, "error", err)
		}
		return nil, ErrNoPendingCapture
	}
	w.pending.RawText = text
	w.pending.Suggestion = suggestion
	w.state = StateDeciding

	return &suggestion, nil
}

// evaluate turns raw OCR text into the decision presented to the user.
func (w *Workflow) evaluate(text string) Suggestion {
	if strings.TrimSpace(text) == "" {
		return Suggestion{Kind: SuggestionNone, Amount: decimal.Zero}
	}
	amount, ok := w.rules.ExtractAmount(text)
	if !ok || !w.rules.IsValidAmount(amount) {
		return Suggestion{Kind: SuggestionInvalid, Amount: amount, RawText: text}
	}
	return Suggestion{Kind: SuggestionAmount, Amount: amount, RawText: text}
}

// Confirm accepts the suggested (or zero) amount and persists the draft as a
// real receipt. Confirming a rejected amount is not allowed. A persistence
// failure leaves the workflow in its decision state so the confirmed amount
// is not silently lost.
func (w *Workflow) Confirm() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateDeciding || w.pending == nil {
		return ErrNoPendingCapture
	}
	if w.pending.Suggestion.Kind == SuggestionInvalid {
		return ErrAmountRejected
	}
	return w.saveLocked(w.pending.Suggestion.Amount)
}

// ConfirmManual accepts a user-entered amount, normalized with the same
// comma/dot rules as extraction. Invalid input causes no state transition.
func (w *Workflow) ConfirmManual(input string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateDeciding || w.pending == nil {
		return ErrNoPendingCapture
	}
	amount, ok := w.rules.ParseAmount(input)
	if !ok || !amount.IsPositive() {
		return ErrInvalidManualAmount
	}
	return w.saveLocked(amount)
}

// saveLocked finalizes the draft with the given amount. Caller holds w.mu.
func (w *Workflow) saveLocked(amount decimal.Decimal) error {
	record, err := w.db.GetReceipt(w.pending.DraftID)
	if err != nil {
		return fmt.Errorf("loading draft receipt: %w", err)
	}

	record.Amount = amount
	record.RawText = w.pending.RawText
	record.Synced = false
	record.UpdatedAt = w.timeSource.Now()

	if err := w.db.SaveReceipt(record); err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}

	w.publisher.Publish(events.TopicReceiptsChanged, record.ID)
	w.pending = nil
	w.state = StateIdle
	return nil
}

// Rescan discards the draft and returns to Idle so a new photo can restart
// the cycle. Discarding is idempotent: calling it with no active session, or
// after the draft is already gone, is a no-op.
func (w *Workflow) Rescan() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == nil {
		// Nothing to discard. A capture that has not parked its draft yet
		// still owns the state, so leave it untouched; resetting it here
		// would reopen the single-capture guard mid-flight.
		return nil
	}

	if err := w.db.DeleteReceipt(w.pending.DraftID); err != nil {
		return fmt.Errorf("discarding draft receipt: %w", err)
	}
	if err := w.storage.Delete(w.pending.ImageRef); err != nil {
		slog.Warn("Failed to delete draft photo", "ref", w.pending.ImageRef, "error", err)
	}

	w.pending = nil
	w.state = StateIdle
	return nil
}

// Cancel is Rescan under another name: every exit that is not a save
// discards the draft.
func (w *Workflow) Cancel() error {
	return w.Rescan()
}

// reset returns the workflow to Idle after an early failure.
func (w *Workflow) reset() {
	w.mu.Lock()
	w.pending = nil
	w.state = StateIdle
	w.mu.Unlock()
}

// Get retrieves a receipt by ID
func (w *Workflow) Get(id string) (*Record, error) {
	record, err := w.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return record, nil
}

// ListByUser returns all receipts owned by a user
func (w *Workflow) ListByUser(userID string) ([]*Record, error) {
	records, err := w.db.ListReceiptsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return records, nil
}

// GetPhoto retrieves the stored photo for a receipt
func (w *Workflow) GetPhoto(id string) ([]byte, error) {
	record, err := w.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	data, err := w.storage.Get(record.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("getting receipt photo: %w", err)
	}
	return data, nil
}

// Delete removes a confirmed receipt and its photo, then notifies listeners
func (w *Workflow) Delete(id string) error {
	record, err := w.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := w.storage.Delete(record.ImageRef); err != nil {
		slog.Warn("Failed to delete photo", "ref", record.ImageRef, "error", err)
	}

	if err := w.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}

	w.publisher.Publish(events.TopicReceiptsChanged, id)
	return nil
}
