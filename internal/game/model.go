package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const (
	MicrosPerCredit = int64(1_000_000)

	StartingCreditsMicros = int64(10_000) * MicrosPerCredit

	// DustMicros is the principal below which a position is closed instead of kept open.
	DustMicros = MicrosPerCredit
	// SellEpsilonMicros absorbs rounding in sell requests (one cent of a credit).
	SellEpsilonMicros = MicrosPerCredit / 100

	DefaultHistoryCapacity = 30

	CreditCurrency = "CRD"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrMetricUnavailable    = errors.New("metric unavailable")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrInvalidEntityID      = errors.New("entity id must be 1-64 letters, digits, '-' or '_'")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAccountID     = errors.New("account id is required")
	ErrFetchFailed          = errors.New("metric fetch failed")
	ErrDuplicateIdempotency = errors.New("idempotency key already used for a different trade")
	ErrSaveFailed           = errors.New("save failed")
	ErrLoadFailed           = errors.New("load failed")
)

func init() {
	money.AddCurrency(CreditCurrency, "C ", "$1", ".", ",", 2)
}

// IsValidation reports whether err is a caller mistake rather than a system fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrInvalidEntityID) ||
		errors.Is(err, ErrInvalidAccountID)
}

var entityIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateEntityID(id string) error {
	if !entityIDRE.MatchString(strings.TrimSpace(id)) {
		return ErrInvalidEntityID
	}
	return nil
}

func CreditsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerCredit)))
}

func MicrosToCredits(v int64) float64 {
	return float64(v) / float64(MicrosPerCredit)
}

// ParseCredits parses a decimal credit amount ("550", "12.5") into micros.
// Anything that is not a strictly positive number is ErrInvalidAmount.
func ParseCredits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: must be > 0", ErrInvalidAmount)
	}
	micros := d.Shift(6).Round(0)
	if !micros.IsPositive() {
		return 0, fmt.Errorf("%w: below one micro-credit", ErrInvalidAmount)
	}
	if micros.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	return micros.IntPart(), nil
}

// FormatCredits renders micros as "C 1,234.56".
func FormatCredits(micros int64) string {
	cents := micros / (MicrosPerCredit / 100)
	return money.New(cents, CreditCurrency).Display()
}
