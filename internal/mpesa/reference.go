package mpesa

import (
	"strconv"
	"strings"
	"unicode"
)

// ReferenceMaxLen is the provider's limit for both reference fields.
const ReferenceMaxLen = 20

const transactionPrefix = "ANUNCIO"

// NormalizeMSISDN strips every non-digit and prefixes countryCode to bare
// 9-digit local numbers. Other lengths are passed through unchanged.
func NormalizeMSISDN(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 9 && !strings.HasPrefix(digits, countryCode) {
		return countryCode + digits
	}
	return digits
}

// TransactionReference derives the provider transaction reference from the
// announcement id, e.g. ANUNCIO42.
func TransactionReference(id int64) string {
	ref := transactionPrefix + strconv.FormatInt(id, 10)
	if len(ref) > ReferenceMaxLen {
		// Keep the id, which is what makes the reference unique.
		ref = ref[len(ref)-ReferenceMaxLen:]
	}
	return ref
}

// ThirdPartyReference derives the merchant-side reference: the upper-cased
// alphanumerics of slug followed by the id, capped at ReferenceMaxLen.
func ThirdPartyReference(slug string, id int64) string {
	suffix := strconv.FormatInt(id, 10)
	room := ReferenceMaxLen - len(suffix)
	if room <= 0 {
		return suffix[len(suffix)-ReferenceMaxLen:]
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(slug) {
		if b.Len() == room {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsUpper(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		b.WriteString(transactionPrefix[:min(room, len(transactionPrefix))])
	}
	return b.String() + suffix
}
