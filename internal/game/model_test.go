package game

import (
	"errors"
	"testing"
)

func TestValidateEntityID(t *testing.T) {
	valid := []string{"0TnOYISbd1XYRBk9myaseg", "artist_1", "a-b"}
	for _, s := range valid {
		if err := ValidateEntityID(s); err != nil {
			t.Fatalf("expected entity id %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "x/y"}
	for _, s := range invalid {
		if err := ValidateEntityID(s); err == nil {
			t.Fatalf("expected entity id %q to fail", s)
		}
	}
}

func TestParseCredits(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "550", want: 550 * MicrosPerCredit},
		{in: "12.5", want: 12_500_000},
		{in: " 0.01 ", want: 10_000},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "0.0000001", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseCredits(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("in=%q expected ErrInvalidAmount, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("in=%q unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("in=%q got=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func TestFormatCredits(t *testing.T) {
	tests := []struct {
		micros int64
		want   string
	}{
		{micros: 0, want: "C 0.00"},
		{micros: 1_234_560_000, want: "C 1,234.56"},
		{micros: StartingCreditsMicros, want: "C 10,000.00"},
	}
	for _, tc := range tests {
		if got := FormatCredits(tc.micros); got != tc.want {
			t.Fatalf("micros=%d got=%q want=%q", tc.micros, got, tc.want)
		}
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(ErrInsufficientCredits) || !IsValidation(ErrInvalidAmount) || !IsValidation(ErrInsufficientHoldings) {
		t.Fatalf("expected ledger errors to be validation errors")
	}
	if IsValidation(ErrMetricUnavailable) || IsValidation(ErrSaveFailed) {
		t.Fatalf("data and persistence errors are not validation errors")
	}
}
