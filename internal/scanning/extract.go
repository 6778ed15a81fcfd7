package scanning

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// totalKeywords mark a receipt line as a candidate for the grand total.
// Matching is case-insensitive; "subtotal" lines are skipped outright so an
// itemized subtotal never shadows the real total further down.
var totalKeywords = []string{"total", "amount due", "balance", "amount"}

var (
	numericToken     = regexp.MustCompile(`[0-9][0-9.,]*`)
	standaloneAmount = regexp.MustCompile(`^[$£€¥]?\s*[0-9][0-9.,]*\s*[$£€¥]?$`)
	manualAmount     = regexp.MustCompile(`^[$£€¥]?\s*[0-9][0-9.,]*$`)
)

// AmountRules holds the tunable knobs of amount extraction and validation.
// Both cutoffs are product decisions rather than algorithmic ones, so they
// are configurable instead of hard-coded.
type AmountRules struct {
	// ImpliedDecimalMin is the magnitude at or above which a separator-less
	// keyword-line number is assumed to have lost its decimal point to OCR
	// and is reinterpreted with an implied two-digit decimal (1250 -> 12.50).
	ImpliedDecimalMin decimal.Decimal

	// MaxAmount is the realistic ceiling for a single receipt total. Amounts
	// above it are treated as OCR digit-insertion errors.
	MaxAmount decimal.Decimal
}

// DefaultAmountRules returns the rules used in production.
func DefaultAmountRules() AmountRules {
	return AmountRules{
		ImpliedDecimalMin: decimal.NewFromInt(1000),
		MaxAmount:         decimal.NewFromInt(100000),
	}
}

// ExtractAmount scans raw OCR text for the receipt's total amount.
// Strategies are ordered and the first match wins:
//
//  1. A line containing a total keyword; the rightmost numeric token on that
//     line is taken, with the implied-decimal reinterpretation applied to
//     implausibly large separator-less values.
//  2. A bottom-up scan for a trailing line that is a standalone monetary
//     value (optionally wrapped in a currency symbol).
//
// Returns false when nothing parses. Deterministic, no side effects.
func (r AmountRules) ExtractAmount(text string) (decimal.Decimal, bool) {
	lines := strings.Split(text, "\n")

	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "subtotal") || !containsTotalKeyword(lower) {
			continue
		}
		tokens := numericToken.FindAllString(line, -1)
		if len(tokens) == 0 {
			continue
		}
		amount, hadSeparator, ok := normalizeNumericToken(tokens[len(tokens)-1])
		if !ok {
			continue
		}
		// OCR frequently drops the decimal point; only the keyword path is
		// trusted enough to guess it back.
		if !hadSeparator && amount.GreaterThanOrEqual(r.ImpliedDecimalMin) {
			amount = amount.Shift(-2)
		}
		return amount, true
	}

	// Bottom-scan fallback: the total on many receipts is the last bare
	// number printed, with no label at all.
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !standaloneAmount.MatchString(line) {
			continue
		}
		if amount, _, ok := normalizeNumericToken(numericToken.FindString(line)); ok {
			return amount, true
		}
	}

	return decimal.Decimal{}, false
}

// IsValidAmount reports whether an extracted amount is plausible for a
// receipt total: strictly positive and no greater than the configured
// ceiling.
func (r AmountRules) IsValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.LessThanOrEqual(r.MaxAmount)
}

// ParseAmount parses a manually entered amount using the same numeric
// normalization as ExtractAmount. Returns false for anything that is not a
// plain monetary value.
func (r AmountRules) ParseAmount(input string) (decimal.Decimal, bool) {
	input = strings.TrimSpace(input)
	if input == "" || !manualAmount.MatchString(input) {
		return decimal.Decimal{}, false
	}
	amount, _, ok := normalizeNumericToken(numericToken.FindString(input))
	return amount, ok
}

func containsTotalKeyword(lower string) bool {
	for _, kw := range totalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// normalizeNumericToken turns an OCR numeric token into a decimal value.
// A single comma with no dot and at most two digits after it is treated as a
// European decimal separator; every other comma is a thousands separator and
// stripped. Reports whether the token carried separator punctuation at all,
// which the caller needs for the implied-decimal heuristic.
func normalizeNumericToken(token string) (amount decimal.Decimal, hadSeparator, ok bool) {
	token = strings.Trim(token, ".,")
	if token == "" {
		return decimal.Decimal{}, false, false
	}

	hadSeparator = strings.Contains(token, ".")
	if commaIdx := strings.Index(token, ","); commaIdx >= 0 {
		digitsAfter := len(token) - commaIdx - 1
		if strings.Count(token, ",") == 1 && !strings.Contains(token, ".") && digitsAfter <= 2 {
			token = strings.Replace(token, ",", ".", 1)
			hadSeparator = true
		} else {
			token = strings.ReplaceAll(token, ",", "")
			// Thousands punctuation survived OCR, so a dropped decimal
			// point is unlikely; skip the implied-decimal guess.
			hadSeparator = true
		}
	}

	amount, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Decimal{}, false, false
	}
	return amount, hadSeparator, true
}
