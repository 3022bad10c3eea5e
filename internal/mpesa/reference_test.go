package mpesa

import (
	"strings"
	"testing"
)

func TestNormalizeMSISDN(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"local nine digits", "841234567", "258841234567"},
		{"formatted local", "+84 123-4567", "258841234567"},
		{"already prefixed", "258841234567", "258841234567"},
		{"international format", "+258 84 123 4567", "258841234567"},
		{"short passes through", "12345", "12345"},
		{"long passes through", "0841234567", "0841234567"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMSISDN(tt.phone, "258"); got != tt.want {
				t.Errorf("NormalizeMSISDN(%q) = %q, want %q", tt.phone, got, tt.want)
			}
		})
	}
}

func TestTransactionReference(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{1, "ANUNCIO1"},
		{42, "ANUNCIO42"},
		{1234567890123, "ANUNCIO1234567890123"},
		{123456789012345, "UNCIO123456789012345"},
	}

	for _, tt := range tests {
		got := TransactionReference(tt.id)
		if got != tt.want {
			t.Errorf("TransactionReference(%d) = %q, want %q", tt.id, got, tt.want)
		}
		if len(got) > ReferenceMaxLen {
			t.Errorf("reference %q exceeds %d chars", got, ReferenceMaxLen)
		}
	}
}

func TestThirdPartyReference(t *testing.T) {
	tests := []struct {
		name string
		slug string
		id   int64
		want string
	}{
		{"simple", "maria-silva", 42, "MARIASILVA42"},
		{"suffixed slug", "joao-2", 7, "JOAO27"},
		{"long slug capped", "maria-da-conceicao-fernandes", 1234, "MARIADACONCEICAO1234"},
		{"empty slug", "", 9, "ANUNCIO9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ThirdPartyReference(tt.slug, tt.id)
			if got != tt.want {
				t.Errorf("ThirdPartyReference(%q, %d) = %q, want %q", tt.slug, tt.id, got, tt.want)
			}
			if len(got) > ReferenceMaxLen {
				t.Errorf("reference %q exceeds %d chars", got, ReferenceMaxLen)
			}
			if got != strings.ToUpper(got) {
				t.Errorf("reference %q is not upper-case", got)
			}
		})
	}
}

func TestReferencesAreDeterministic(t *testing.T) {
	if TransactionReference(99) != TransactionReference(99) {
		t.Fatal("transaction reference must be stable across retries")
	}
	if ThirdPartyReference("ana", 99) != ThirdPartyReference("ana", 99) {
		t.Fatal("third-party reference must be stable across retries")
	}
}
