package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator resolves user-visible engine strings (the generation apology,
// entitlement denial prompts) for one language.
type Translator struct {
	translations map[string]string
}

func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("read translation file %s: %w", filePath, err)
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T returns the translated string for key, or the key itself when missing.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Catalog loads every embedded locale and falls back to English for unknown
// language codes.
type Catalog struct {
	byLang   map[string]*Translator
	fallback *Translator
}

func NewCatalog() (*Catalog, error) {
	entries, err := fs.ReadDir(LocalesFS, "locales")
	if err != nil {
		return nil, err
	}
	c := &Catalog{byLang: make(map[string]*Translator)}
	for _, e := range entries {
		name := e.Name()
		ext := path.Ext(name)
		if ext != ".yaml" {
			continue
		}
		lang := name[:len(name)-len(ext)]
		tr, err := NewTranslator(LocalesFS, lang)
		if err != nil {
			return nil, err
		}
		c.byLang[lang] = tr
		if lang == "en" {
			c.fallback = tr
		}
	}
	if c.fallback == nil {
		return nil, fmt.Errorf("embedded locales missing en")
	}
	return c, nil
}

func (c *Catalog) For(lang string) *Translator {
	if tr, ok := c.byLang[lang]; ok {
		return tr
	}
	return c.fallback
}
