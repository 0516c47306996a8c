package brcode

import (
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func testPayload() Payload {
	return Payload{
		PixKey:       "11999999999",
		MerchantName: "Loja Teste",
		MerchantCity: "Sao Paulo",
		Amount:       decimal.RequireFromString("10.00"),
		Description:  "Test",
	}
}

func TestEncodeFixedInputs(t *testing.T) {
	payload, err := testPayload().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(payload, "000201010212") {
		t.Fatalf("payload should start with format+initiation fields: %s", payload)
	}
	for _, want := range []string{
		"261111999999999", // account info: tag 26, len 11, key
		"52040000",
		"5303986",
		"540510.00", // "10.00" is 5 chars
		"5802BR",
		"5910Loja Teste",
		"6009Sao Paulo",
		"6204Test",
	} {
		if !strings.Contains(payload, want) {
			t.Fatalf("payload missing %q: %s", want, payload)
		}
	}
}

func TestEncodeChecksumField(t *testing.T) {
	payload, err := testPayload().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	marker := strings.LastIndex(payload, "6304")
	if marker != len(payload)-8 {
		t.Fatalf("expected 6304 marker before the last 4 characters: %s", payload)
	}
	suffix := payload[len(payload)-4:]
	if suffix != strings.ToUpper(suffix) {
		t.Fatalf("checksum digits must be uppercase: %s", suffix)
	}
	parsed, err := strconv.ParseUint(suffix, 16, 16)
	if err != nil {
		t.Fatalf("checksum is not 4 hex digits: %s", suffix)
	}
	// The checksum covers everything through the 6304 marker.
	if want := Checksum(payload[:len(payload)-4]); uint16(parsed) != want {
		t.Fatalf("checksum mismatch: payload carries %04X, recomputed %04X", parsed, want)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	first, err := testPayload().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := testPayload().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("identical inputs produced different payloads:\n%s\n%s", first, second)
	}
}

func TestEncodeTruncation(t *testing.T) {
	p := testPayload()
	p.MerchantName = "Padaria e Confeitaria Estrela do Sul Ltda" // > 25 chars
	p.MerchantCity = "Sao Jose dos Campos"                      // > 15 chars
	p.Description = strings.Repeat("x", 150)

	payload, err := p.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(payload, "5925"+p.MerchantName[:25]) {
		t.Fatalf("merchant name not truncated to 25 with matching prefix: %s", payload)
	}
	if !strings.Contains(payload, "6015"+p.MerchantCity[:15]) {
		t.Fatalf("merchant city not truncated to 15 with matching prefix: %s", payload)
	}
	if !strings.Contains(payload, "6299"+strings.Repeat("x", 99)) {
		t.Fatalf("description not truncated to 99 with matching prefix: %s", payload)
	}
}

func TestEncodeAmountFormatting(t *testing.T) {
	cases := map[string]string{
		"5":      "54045.00",
		"1234.5": "54071234.50",
		"0.01":   "54040.01",
	}
	for amount, want := range cases {
		p := testPayload()
		p.Amount = decimal.RequireFromString(amount)
		payload, err := p.Encode()
		if err != nil {
			t.Fatalf("unexpected error for amount %s: %v", amount, err)
		}
		if !strings.Contains(payload, want) {
			t.Fatalf("amount %s: expected field %q in %s", amount, want, payload)
		}
	}
}

func TestEncodeRejectsBadPixKey(t *testing.T) {
	for name, key := range map[string]string{
		"empty":    "",
		"too long": strings.Repeat("k", 100),
	} {
		p := testPayload()
		p.PixKey = key
		if _, err := p.Encode(); err == nil {
			t.Fatalf("%s pix key should be rejected", name)
		}
	}
}
