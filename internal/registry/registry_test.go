package registry

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deskmate/internal/llm"
	"deskmate/internal/llm/mockclient"
)

func quiet() Options {
	return Options{Logger: log.New(io.Discard, "", 0)}
}

func TestInitializeMarksMissingVendors(t *testing.T) {
	r := Initialize(context.Background(), map[llm.Vendor]string{
		llm.VendorOpenAI:    "sk-1",
		llm.VendorAnthropic: "ak-1",
		llm.VendorScira:     "sc-1",
		llm.VendorZAI:       "   ",
	}, quiet())

	if diff := cmp.Diff([]llm.Vendor{llm.VendorOpenAI, llm.VendorAnthropic, llm.VendorScira}, r.Configured()); diff != "" {
		t.Fatalf("configured mismatch (-want +got):\n%s", diff)
	}
	missing := r.MissingKeys()
	for _, v := range []llm.Vendor{llm.VendorGemini, llm.VendorOpenRouter, llm.VendorZAI} {
		if !missing[v] {
			t.Errorf("%s should be missing", v)
		}
	}
	if _, err := r.Provider(llm.VendorOpenAI); err != nil {
		t.Fatalf("openai handle: %v", err)
	}
	if r.Searcher() == nil {
		t.Fatalf("scira should serve as searcher when gemini is missing")
	}
	if r.Active().Vendor != llm.VendorOpenAI {
		t.Fatalf("first configured vendor should be active, got %s", r.Active().Vendor)
	}
}

func TestEmptyRegistry(t *testing.T) {
	r := Initialize(context.Background(), nil, quiet())
	if !r.Empty() || r.Searcher() != nil {
		t.Fatalf("expected empty registry")
	}
	_, err := r.Provider(llm.VendorGemini)
	if !errors.Is(err, llm.ErrMissingAPIKey) || err.Error() != "Gemini API Key missing" {
		t.Fatalf("unexpected error %v", err)
	}
	if len(r.Options()) != len(llm.Vendors) {
		t.Fatalf("options should list every vendor")
	}
}

func TestSwitchingAndModels(t *testing.T) {
	opts := quiet()
	opts.Models = map[llm.Vendor]string{llm.VendorOpenRouter: "deepseek/deepseek-r1"}
	r := FromProviders(map[llm.Vendor]llm.Provider{
		llm.VendorOpenRouter: mockclient.New().WithVendor(llm.VendorOpenRouter),
	}, opts)

	if got := r.Model(llm.VendorOpenRouter); got != "deepseek/deepseek-r1" {
		t.Fatalf("configured model not used: %q", got)
	}
	if got := r.Model(llm.VendorGemini); got != llm.VendorGemini.DefaultModel() {
		t.Fatalf("default model not used: %q", got)
	}
	if err := r.SetActive(llm.VendorAnthropic); err != nil {
		t.Fatalf("selecting an unconfigured vendor should be allowed: %v", err)
	}
	if a := r.Active(); a.Vendor != llm.VendorAnthropic || a.Configured {
		t.Fatalf("unexpected active option %+v", a)
	}
	if err := r.SetActive("nope"); err == nil {
		t.Fatalf("unknown vendor should be rejected")
	}
	r.SetModel(llm.VendorOpenRouter, "")
	if got := r.Model(llm.VendorOpenRouter); got != llm.VendorOpenRouter.DefaultModel() {
		t.Fatalf("blank model should reset to default, got %q", got)
	}
}
