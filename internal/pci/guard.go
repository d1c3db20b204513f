// Package pci validates payment results before they are allowed to leave the
// provider boundary. A violation here is a defect in provider code, not a
// business outcome, so it surfaces as a dedicated error type that callers
// must not swallow.
package pci

import (
	"fmt"
	"strings"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

// ComplianceError is raised when a payment result would leak card data or
// was produced by a terminal without P2PE certification.
type ComplianceError struct {
	Reason string
	// Digits is the observed digit count when the violation is an
	// over-retained masked PAN; zero otherwise.
	Digits int
}

func (e *ComplianceError) Error() string {
	return "pci compliance violation: " + e.Reason
}

// Metadata keys that must never appear in SafeMetadata, compared
// case-insensitively and ignoring separators.
var forbiddenMetadataKeys = []string{
	"pan", "cardnumber", "cardno", "cvv", "cvc", "cvv2",
	"track1", "track2", "track3", "magstripe", "pinblock",
}

// Validate checks a payment result against the card-data retention rules.
//
//  1. MaskedPan may retain at most 4 digit characters.
//  2. The producing terminal must be P2PE certified, independent of the
//     MaskedPan check.
//  3. SafeMetadata must not carry raw card-data keys or PAN-length digit
//     runs in its values.
func Validate(res *terminal.PaymentResult) error {
	if res == nil {
		return nil
	}
	if n := digitCount(res.MaskedPan); n > 4 {
		return &ComplianceError{
			Reason: fmt.Sprintf("masked PAN retains %d digits; only last 4 digits may be retained", n),
			Digits: n,
		}
	}
	if !res.IsP2PECompliant {
		return &ComplianceError{Reason: "terminal is not P2PE certified: cannot process payments"}
	}
	for k, v := range res.SafeMetadata {
		if isForbiddenKey(k) {
			return &ComplianceError{Reason: fmt.Sprintf("metadata key %q may carry card data", k)}
		}
		if run := longestDigitRun(v); run >= 13 && run <= 19 {
			return &ComplianceError{Reason: fmt.Sprintf("metadata key %q value contains a PAN-length digit run", k)}
		}
	}
	return nil
}

func digitCount(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

func isForbiddenKey(key string) bool {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))
	for _, f := range forbiddenMetadataKeys {
		if norm == f {
			return true
		}
	}
	return false
}

func longestDigitRun(s string) int {
	run, best := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}
