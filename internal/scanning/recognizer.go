package scanning

import "context"

// Recognizer defines the interface for OCR operations. Implementations may
// fail or time out; callers treat any failure identically to empty text.
type Recognizer interface {
	// Recognize transcribes the text visible on a receipt photo.
	Recognize(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}
