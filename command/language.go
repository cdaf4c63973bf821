package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned for language tags outside the supported set
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language identifies a supported runtime
type Language int

// Supported languages. The zero value is deliberately invalid.
const (
	JavaScript Language = iota + 1
	TypeScript
	Python
	Go
	Rust
	C
	CPP
	CSharp
	Zig
)

var languageNames = map[Language]string{
	JavaScript: "javascript",
	TypeScript: "typescript",
	Python:     "python",
	Go:         "go",
	Rust:       "rust",
	C:          "c",
	CPP:        "cpp",
	CSharp:     "csharp",
	Zig:        "zig",
}

var languageAliases = map[string]Language{
	"js":     JavaScript,
	"node":   JavaScript,
	"nodejs": JavaScript,
	"ts":     TypeScript,
	"py":     Python,
	"golang": Go,
	"c++":    CPP,
	"cs":     CSharp,
	"c#":     CSharp,
}

// String returns the canonical tag, which is also used in cache keys and image names
func (l Language) String() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Language(%d)", int(l))
}

// Valid reports whether l is one of the supported languages
func (l Language) Valid() bool {
	_, ok := languageNames[l]
	return ok
}

// ParseLanguage resolves a canonical tag or alias, case-insensitively
func ParseLanguage(tag string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(tag))
	for lang, name := range languageNames {
		if name == key {
			return lang, nil
		}
	}
	if lang, ok := languageAliases[key]; ok {
		return lang, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
}

// Languages returns every supported language in declaration order
func Languages() []Language {
	return []Language{JavaScript, TypeScript, Python, Go, Rust, C, CPP, CSharp, Zig}
}

// Names returns the canonical tags of every supported language
func Names() []string {
	langs := Languages()
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		names = append(names, l.String())
	}
	return names
}
