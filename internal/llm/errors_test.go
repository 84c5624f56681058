package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestMissingKeyErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("turn: %w", &MissingKeyError{Vendor: VendorAnthropic})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatal("expected errors.Is to match ErrMissingAPIKey")
	}
	if got := (&MissingKeyError{Vendor: VendorAnthropic}).Error(); got != "Anthropic API Key missing" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		want      ErrorType
		retryable bool
	}{
		{429, ErrorTypeRateLimit, true},
		{401, ErrorTypeAuth, false},
		{402, ErrorTypeInsufficientCredit, false},
		{403, ErrorTypeModeration, false},
		{503, ErrorTypeProviderDown, true},
		{400, ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		pe := StatusError(VendorOpenAI, tt.status, []byte("nope"))
		if pe.Type != tt.want || pe.Retryable != tt.retryable {
			t.Errorf("status %d: got %s/%v, want %s/%v", tt.status, pe.Type, pe.Retryable, tt.want, tt.retryable)
		}
		if _, ok := IsProviderError(fmt.Errorf("wrap: %w", pe)); !ok {
			t.Errorf("status %d: IsProviderError failed through wrapping", tt.status)
		}
	}
}

func TestParseVendor(t *testing.T) {
	cases := map[string]Vendor{
		"Gemini":     VendorGemini,
		" openai ":   VendorOpenAI,
		"OPENROUTER": VendorOpenRouter,
		"z.ai":       VendorZAI,
		"claude":     VendorAnthropic,
		"scira":      VendorScira,
	}
	for in, want := range cases {
		got, err := ParseVendor(in)
		if err != nil || got != want {
			t.Errorf("ParseVendor(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseVendor("llama"); err == nil {
		t.Error("expected error for unknown vendor")
	}
}

func TestDecodeDataURI(t *testing.T) {
	att := NewAttachment("pixel.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	if att.Kind != AttachmentImage {
		t.Fatalf("kind = %s", att.Kind)
	}
	data, mime, err := att.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != "image/png" || string(data[1:]) != "PNG" {
		t.Fatalf("got %q %q", mime, data)
	}

	data, mime, err = DecodeDataURI("data:,hello%20world")
	if err != nil || mime != "text/plain" || string(data) != "hello world" {
		t.Fatalf("plain uri: %q %q %v", data, mime, err)
	}
	if _, _, err := DecodeDataURI("https://example.com/a.png"); err == nil {
		t.Fatal("expected error for non data uri")
	}
}
