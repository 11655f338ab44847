package i18n

import (
	"net/http/httptest"
	"testing"
	"testing/fstest"
)

func TestT(t *testing.T) {
	if got := T("nl", "Logout"); got != "Uitloggen" {
		t.Errorf("Expected Dutch translation, got %q", got)
	}
	if got := T("fr", "Logout"); got != "Sign out" {
		t.Errorf("Expected English fallback for unknown language, got %q", got)
	}
	if got := T("en", "NoSuchKey"); got != "NoSuchKey" {
		t.Errorf("Expected key echoed for missing translation, got %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"nl-BE, nl;q=0.9, en;q=0.8", "nl"},
		{"fr-CH, fr;q=0.9, NL;q=0.8", "nl"},
		{"de, fr", "en"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Accept-Language", tt.header)
		}
		if got := DetectLanguage(r); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestLoadTranslationsMissingLanguage(t *testing.T) {
	fsys := fstest.MapFS{"x/en.json": {Data: []byte(`{"Login":"Sign in"}`)}}
	if err := LoadTranslations(fsys, "x"); err == nil {
		t.Error("Expected error when a language file is missing")
	}
	if got := T("nl", "Logout"); got != "Uitloggen" {
		t.Errorf("Failed load must keep previous translations, got %q", got)
	}
}
