package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
)

//go:embed locales/*.json
var locales embed.FS

var (
	mu           sync.RWMutex
	translations = make(map[string]map[string]string)
	DefaultLang  = "en"
	Languages    = []string{"en", "nl"}
)

func init() {
	if err := LoadTranslations(locales, "locales"); err != nil {
		panic(fmt.Sprintf("i18n: embedded translations: %v", err))
	}
}

// LoadTranslations reads <dir>/<lang>.json from fsys for every supported
// language, replacing what was loaded before.
func LoadTranslations(fsys fs.FS, dir string) error {
	loaded := make(map[string]map[string]string, len(Languages))
	for _, lang := range Languages {
		data, err := fs.ReadFile(fsys, fmt.Sprintf("%s/%s.json", dir, lang))
		if err != nil {
			return err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("%s.json: %w", lang, err)
		}
		loaded[lang] = t
	}
	mu.Lock()
	translations = loaded
	mu.Unlock()
	return nil
}

func T(lang, key string) string {
	mu.RLock()
	t, ok := translations[lang]
	mu.RUnlock()
	if ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	// Fallback to English
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

func DetectLanguage(r *http.Request) string {
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return DefaultLang
	}
	// Example: nl-BE, nl;q=0.9, en;q=0.8
	mu.RLock()
	defer mu.RUnlock()
	for _, part := range strings.Split(accept, ",") {
		lang := strings.ToLower(strings.TrimSpace(strings.Split(part, ";")[0]))
		if len(lang) >= 2 {
			lang = lang[:2]
			if _, ok := translations[lang]; ok {
				return lang
			}
		}
	}
	return DefaultLang
}
