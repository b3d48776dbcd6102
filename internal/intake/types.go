package intake

import (
	"fmt"
	"strings"
	"time"
)

// MaxTextBytes caps the passage text accepted from a producer.
const MaxTextBytes = 6 * 1024

// Passage is the datagram payload sent by upstream producers such as an
// OCR process or a browser extension.
type Passage struct {
	Text string `json:"text"`
	// Source names the producer, e.g. "ocr" or "clipboard".
	Source string    `json:"source"`
	TS     time.Time `json:"ts"`
	// Analyze asks for the passage to be analyzed right after it is stored.
	Analyze bool `json:"analyze,omitempty"`
}

func (p Passage) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if len(p.Text) > MaxTextBytes {
		return fmt.Errorf("text exceeds %d bytes", MaxTextBytes)
	}
	if !isValidSource(p.Source) {
		return fmt.Errorf("invalid source %q", p.Source)
	}
	if p.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// isValidSource accepts short lowercase identifiers: letters, digits, '-' and '_'.
func isValidSource(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
