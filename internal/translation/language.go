package translation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// ErrUnsupportedLanguage is returned for language codes without a Flores-200 mapping
var ErrUnsupportedLanguage = errors.New("unsupported language")

// isoToFlores maps ISO 639-1 codes to the Flores-200 codes used by NLLB models
var isoToFlores = map[string]string{
	// European
	"en": "eng_Latn",
	"es": "spa_Latn",
	"fr": "fra_Latn",
	"de": "deu_Latn",
	"it": "ita_Latn",
	"pt": "por_Latn",
	"nl": "nld_Latn",
	"pl": "pol_Latn",
	"ru": "rus_Cyrl",
	"uk": "ukr_Cyrl",
	"cs": "ces_Latn",
	"sk": "slk_Latn",
	"ro": "ron_Latn",
	"hu": "hun_Latn",
	"el": "ell_Grek",
	"sv": "swe_Latn",
	"no": "nob_Latn",
	"da": "dan_Latn",
	"fi": "fin_Latn",
	"bg": "bul_Cyrl",
	"hr": "hrv_Latn",
	"sr": "srp_Cyrl",
	"sl": "slv_Latn",
	"lt": "lit_Latn",
	"lv": "lvs_Latn",
	"et": "est_Latn",
	// Asian
	"zh": "zho_Hans",
	"ja": "jpn_Jpan",
	"ko": "kor_Hang",
	"hi": "hin_Deva",
	"bn": "ben_Beng",
	"ta": "tam_Taml",
	"th": "tha_Thai",
	"vi": "vie_Latn",
	"id": "ind_Latn",
	"ms": "zsm_Latn",
	"tl": "tgl_Latn",
	"my": "mya_Mymr",
	"km": "khm_Khmr",
	// Middle Eastern and African
	"ar": "arb_Arab",
	"he": "heb_Hebr",
	"tr": "tur_Latn",
	"fa": "pes_Arab",
	"sw": "swh_Latn",
	"am": "amh_Ethi",
	"yo": "yor_Latn",
	"ig": "ibo_Latn",
	"ha": "hau_Latn",
	"zu": "zul_Latn",
}

var floresToISO = func() map[string]string {
	m := make(map[string]string, len(isoToFlores))
	for iso, flores := range isoToFlores {
		m[flores] = iso
	}
	return m
}()

// ToFlores converts an ISO 639-1 code to its Flores-200 code
func ToFlores(iso string) (string, error) {
	flores, ok := isoToFlores[strings.ToLower(iso)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, iso)
	}
	return flores, nil
}

// FromFlores converts a Flores-200 code back to ISO 639-1
func FromFlores(flores string) (string, error) {
	iso, ok := floresToISO[flores]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, flores)
	}
	return iso, nil
}

// IsSupported reports whether the ISO 639-1 code can be translated
func IsSupported(iso string) bool {
	_, ok := isoToFlores[strings.ToLower(iso)]
	return ok
}

// SupportedLanguages returns every supported ISO 639-1 code, sorted
func SupportedLanguages() []string {
	langs := make([]string, 0, len(isoToFlores))
	for iso := range isoToFlores {
		langs = append(langs, iso)
	}
	slices.Sort(langs)
	return langs
}

// DetectLanguage guesses the ISO 639-1 language of text. It returns an empty
// string when the text is too short or ambiguous to call.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
