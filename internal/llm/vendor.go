package llm

import (
	"fmt"
	"strings"
)

// Vendor identifies one external chat/search backend.
type Vendor string

const (
	VendorGemini     Vendor = "gemini"
	VendorOpenAI     Vendor = "openai"
	VendorOpenRouter Vendor = "openrouter"
	VendorZAI        Vendor = "zai"
	VendorAnthropic  Vendor = "anthropic"
	VendorScira      Vendor = "scira"
)

// Vendors lists every supported vendor in display order.
var Vendors = []Vendor{
	VendorGemini,
	VendorOpenAI,
	VendorOpenRouter,
	VendorZAI,
	VendorAnthropic,
	VendorScira,
}

// ParseVendor accepts a vendor key in any case.
func ParseVendor(s string) (Vendor, error) {
	key := Vendor(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case VendorGemini, VendorOpenAI, VendorOpenRouter, VendorZAI, VendorAnthropic, VendorScira:
		return key, nil
	case "google":
		return VendorGemini, nil
	case "claude":
		return VendorAnthropic, nil
	case "z.ai":
		return VendorZAI, nil
	default:
		return "", fmt.Errorf("unknown vendor %q", s)
	}
}

// Label is the human-facing vendor name.
func (v Vendor) Label() string {
	switch v {
	case VendorGemini:
		return "Gemini"
	case VendorOpenAI:
		return "OpenAI"
	case VendorOpenRouter:
		return "OpenRouter"
	case VendorZAI:
		return "Z.AI"
	case VendorAnthropic:
		return "Anthropic"
	case VendorScira:
		return "Scira"
	default:
		return string(v)
	}
}

// EnvKey is the environment variable carrying the vendor credential.
func (v Vendor) EnvKey() string {
	switch v {
	case VendorGemini:
		return "GEMINI_API_KEY"
	case VendorOpenAI:
		return "OPENAI_API_KEY"
	case VendorOpenRouter:
		return "OPENROUTER_API_KEY"
	case VendorZAI:
		return "ZAI_API_KEY"
	case VendorAnthropic:
		return "ANTHROPIC_API_KEY"
	case VendorScira:
		return "SCIRA_API_KEY"
	default:
		return strings.ToUpper(string(v)) + "_API_KEY"
	}
}

// NativeThinking reports whether the vendor exposes a reasoning toggle; the
// others are asked to wrap reasoning in think tags instead.
func (v Vendor) NativeThinking() bool {
	switch v {
	case VendorGemini, VendorAnthropic, VendorZAI:
		return true
	default:
		return false
	}
}

// NativeSearch reports whether the vendor can ground a streamed answer itself.
func (v Vendor) NativeSearch() bool {
	return v == VendorGemini
}

// StrictAlternation reports whether history must alternate user/assistant
// starting on user.
func (v Vendor) StrictAlternation() bool {
	switch v {
	case VendorGemini, VendorAnthropic:
		return true
	default:
		return false
	}
}

// DefaultModel is the model used when the config does not name one.
func (v Vendor) DefaultModel() string {
	switch v {
	case VendorGemini:
		return "gemini-2.5-flash"
	case VendorOpenAI:
		return "gpt-4o-mini"
	case VendorOpenRouter:
		return "openrouter/auto"
	case VendorZAI:
		return "glm-4.6"
	case VendorAnthropic:
		return "claude-sonnet-4-5"
	case VendorScira:
		return "scira-default"
	default:
		return ""
	}
}
