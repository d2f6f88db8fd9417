package translation

import (
	"testing"
)

func TestFloresMapping(t *testing.T) {
	tests := []struct {
		iso    string
		flores string
	}{
		{"en", "eng_Latn"},
		{"FR", "fra_Latn"},
		{"zh", "zho_Hans"},
		{"ar", "arb_Arab"},
	}

	for _, tt := range tests {
		t.Run(tt.iso, func(t *testing.T) {
			flores, err := ToFlores(tt.iso)
			if err != nil {
				t.Fatalf("ToFlores(%s) failed: %v", tt.iso, err)
			}
			if flores != tt.flores {
				t.Errorf("Expected %s, got %s", tt.flores, flores)
			}

			iso, err := FromFlores(flores)
			if err != nil {
				t.Fatalf("FromFlores(%s) failed: %v", flores, err)
			}
			if !IsSupported(iso) {
				t.Errorf("Expected %s to be supported", iso)
			}
		})
	}

	if _, err := ToFlores("tlh"); err == nil {
		t.Error("Expected error for unsupported language")
	}
	if _, err := FromFlores("xxx_Latn"); err == nil {
		t.Error("Expected error for unknown Flores code")
	}
}

func TestSupportedLanguagesSorted(t *testing.T) {
	langs := SupportedLanguages()
	if len(langs) != len(isoToFlores) {
		t.Fatalf("Expected %d languages, got %d", len(isoToFlores), len(langs))
	}
	for i := 1; i < len(langs); i++ {
		if langs[i-1] >= langs[i] {
			t.Fatalf("Languages not sorted at %d: %s >= %s", i, langs[i-1], langs[i])
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog while the children are playing in the garden behind the house."
	if lang := DetectLanguage(text); lang != "en" {
		t.Errorf("Expected en, got '%s'", lang)
	}
}
