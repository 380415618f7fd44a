package config

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// PlainText is the language id used when no rule matches.
const PlainText = "plaintext"

func defaultLanguages() []LanguageRule {
	return []LanguageRule{
		{"**/*.go", "go"},
		{"**/*.py", "python"},
		{"**/*.{js,mjs,cjs}", "javascript"},
		{"**/*.jsx", "javascriptreact"},
		{"**/*.ts", "typescript"},
		{"**/*.tsx", "typescriptreact"},
		{"**/*.rs", "rust"},
		{"**/*.java", "java"},
		{"**/*.{c,h}", "c"},
		{"**/*.{cc,cpp,cxx,hpp,hh}", "cpp"},
		{"**/*.cs", "csharp"},
		{"**/*.rb", "ruby"},
		{"**/*.php", "php"},
		{"**/*.{sh,bash}", "shellscript"},
		{"**/*.{yml,yaml}", "yaml"},
		{"**/*.json", "json"},
		{"**/*.md", "markdown"},
		{"**/Dockerfile", "dockerfile"},
		{"**/Makefile", "makefile"},
	}
}

// LanguageFor returns the language id for path. The first matching rule
// wins; PlainText is returned when nothing matches.
func (c Config) LanguageFor(path string) string {
	p := filepath.ToSlash(path)
	for _, rule := range c.Languages {
		if ok, _ := doublestar.Match(rule.Pattern, p); ok {
			return rule.ID
		}
	}
	return PlainText
}
