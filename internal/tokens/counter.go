// Package tokens provides token counting for context budget accounting.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is specified.
// cl100k_base is close enough for budget estimation across all four model
// families; exact counts are not required by the assembler.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text. Implementations may be approximate.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens using a tiktoken BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter returns a Counter backed by the named tiktoken encoding.
// If the encoding cannot be loaded (e.g. offline first run), an estimating
// counter is returned instead.
func NewCounter(encodingName string) Counter {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return EstimateCounter{}
	}
	return &TiktokenCounter{encoding: enc}
}

// Count returns the number of BPE tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateCounter approximates tokens as len(text)/4, the rule of thumb the
// provider SDKs themselves document for rough budgeting.
type EstimateCounter struct{}

// Count returns the estimated number of tokens in text.
func (EstimateCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
