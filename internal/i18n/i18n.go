// Package i18n resolves localized message texts for procedure-declared
// error markers.
package i18n

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver turns a message key into text for a bundle and language.
type Resolver interface {
	Resolve(bundle, language, key string) string
}

// Bundles is a file-backed resolver: one yaml document per bundle,
// mapping language → key → text.
type Bundles struct {
	bundles map[string]map[string]map[string]string
}

// Load reads bundle files. The map associates bundle names with yaml
// file paths.
func Load(files map[string]string) (*Bundles, error) {
	b := &Bundles{bundles: make(map[string]map[string]map[string]string, len(files))}
	for name, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var messages map[string]map[string]string
		if err := yaml.Unmarshal(raw, &messages); err != nil {
			return nil, err
		}
		b.bundles[name] = messages
	}
	return b, nil
}

// Resolve looks the key up for the requested language, trying the bare
// language tag ("en" for "en-US") and then "en" as the last fallback.
// An unresolvable key is returned as-is.
func (b *Bundles) Resolve(bundle, language, key string) string {
	messages, ok := b.bundles[bundle]
	if !ok {
		return key
	}
	for _, lang := range candidateLanguages(language) {
		if byKey, ok := messages[lang]; ok {
			if text, ok := byKey[key]; ok {
				return text
			}
		}
	}
	return key
}

func candidateLanguages(language string) []string {
	// An Accept-Language value may carry a quality list; the first
	// entry wins.
	language = strings.TrimSpace(strings.Split(language, ",")[0])
	language = strings.TrimSpace(strings.Split(language, ";")[0])
	language = strings.ToLower(language)
	out := []string{language}
	if base := strings.Split(language, "-")[0]; base != language {
		out = append(out, base)
	}
	if language != "en" {
		out = append(out, "en")
	}
	return out
}
