// Package brcode assembles the EMV merchant-presented payload embedded in
// PIX payment QR codes: ordered tag-length-value fields followed by a CRC16
// checksum field.
package brcode

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxPixKeyLen      = 99
	maxMerchantName   = 25
	maxMerchantCity   = 15
	maxDescriptionLen = 99
)

var ErrPixKeyLength = fmt.Errorf("pix key must be 1..%d characters", maxPixKeyLen)

// Payload holds the inputs of one BR Code. The transaction id correlates the
// charge outside the payload and is not an encoded field.
type Payload struct {
	PixKey       string
	MerchantName string
	MerchantCity string
	Amount       decimal.Decimal
	Description  string
}

// Encode produces the final checksummed payload string. Output is
// deterministic: identical inputs yield byte-identical payloads.
func (p Payload) Encode() (string, error) {
	if len(p.PixKey) == 0 || len(p.PixKey) > maxPixKeyLen {
		return "", ErrPixKeyLength
	}

	var b strings.Builder
	b.WriteString(field("00", "01")) // payload format indicator
	b.WriteString(field("01", "12")) // point of initiation: dynamic, single use
	b.WriteString(field("26", p.PixKey))
	b.WriteString(field("52", "0000")) // merchant category code
	b.WriteString(field("53", "986"))  // ISO 4217 numeric for BRL
	b.WriteString(field("54", p.Amount.StringFixed(2)))
	b.WriteString(field("58", "BR"))
	b.WriteString(field("59", truncate(p.MerchantName, maxMerchantName)))
	b.WriteString(field("60", truncate(p.MerchantCity, maxMerchantCity)))
	b.WriteString(field("62", truncate(p.Description, maxDescriptionLen)))
	b.WriteString("6304") // CRC tag + length; the marker itself is checksummed

	return b.String() + fmt.Sprintf("%04X", Checksum(b.String())), nil
}

// field renders one tag-length-value entry with a zero-padded 2-digit
// decimal length. Every value is bounded to 99 bytes by the truncation
// rules above, so the prefix never overflows.
func field(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
