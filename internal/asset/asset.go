// Package asset handles asset-code and feed-source parsing and validation
// for the price feed engine.
package asset

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/model"
)

// codeRegex matches short fungible-asset identifiers such as USDC, XLM,
// BTC or wETH2 after upper-casing. Stellar asset codes are 1-12 chars.
var codeRegex = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

// maxFeedIDLen bounds the external feed reference (Pyth ids are 66 chars).
const maxFeedIDLen = 128

var (
	ErrInvalidCode   = fmt.Errorf("%w: invalid asset code", apperr.ErrValidation)
	ErrInvalidSource = fmt.Errorf("%w: invalid source, must be 'pyth', 'chainlink', or 'custom'", apperr.ErrValidation)
	ErrInvalidFeedID = fmt.Errorf("%w: invalid feed id", apperr.ErrValidation)
)

// ParseCode normalizes and validates an asset code.
// Surrounding whitespace is trimmed and letters are upper-cased.
func ParseCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !codeRegex.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q (expected 1-12 letters or digits)", ErrInvalidCode, code)
	}
	return normalized, nil
}

// ParseSource parses a source tag case-insensitively.
func ParseSource(tag string) (model.Source, error) {
	s := model.Source(strings.ToLower(strings.TrimSpace(tag)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, tag)
	}
	return s, nil
}

// ValidateFeedID checks the external feed reference.
func ValidateFeedID(feedID string) (string, error) {
	id := strings.TrimSpace(feedID)
	if id == "" {
		return "", fmt.Errorf("%w: feed id is required", ErrInvalidFeedID)
	}
	if len(id) > maxFeedIDLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidFeedID, maxFeedIDLen)
	}
	return id, nil
}
