package plagiarism

import (
	"sort"
	"strings"
)

// Capability is how the comparison tool handles a language
type Capability string

const (
	// CapabilityNative means the tool has a language-aware tokenizer
	CapabilityNative Capability = "native"
	// CapabilityText means the tool falls back to its plain-text comparator
	CapabilityText Capability = "text"
)

// Language is a tool language together with the extension submissions are written with
type Language struct {
	Tool       string     `bson:"tool" json:"tool"`
	Extension  string     `bson:"extension" json:"extension"`
	Capability Capability `bson:"capability" json:"capability"`
}

var (
	langCPP        = Language{Tool: "cpp", Extension: ".cpp", Capability: CapabilityNative}
	langC          = Language{Tool: "c", Extension: ".c", Capability: CapabilityNative}
	langJava       = Language{Tool: "java", Extension: ".java", Capability: CapabilityNative}
	langKotlin     = Language{Tool: "kotlin", Extension: ".kt", Capability: CapabilityNative}
	langPython     = Language{Tool: "python3", Extension: ".py", Capability: CapabilityNative}
	langRust       = Language{Tool: "rust", Extension: ".rs", Capability: CapabilityNative}
	langJavaScript = Language{Tool: "javascript", Extension: ".js", Capability: CapabilityNative}
	langTypeScript = Language{Tool: "typescript", Extension: ".ts", Capability: CapabilityNative}
	langGo         = Language{Tool: "go", Extension: ".go", Capability: CapabilityNative}
	langCSharp     = Language{Tool: "csharp", Extension: ".cs", Capability: CapabilityNative}
	langScala      = Language{Tool: "scala", Extension: ".scala", Capability: CapabilityNative}
	langSwift      = Language{Tool: "swift", Extension: ".swift", Capability: CapabilityNative}
)

// TextLanguage is the fallback for anything the tool cannot tokenize natively
var TextLanguage = Language{Tool: "text", Extension: ".txt", Capability: CapabilityText}

func textWithExtension(ext string) Language {
	return Language{Tool: TextLanguage.Tool, Extension: ext, Capability: CapabilityText}
}

// languageTable maps contest language ids to tool languages
var languageTable = map[string]Language{
	"cc":        langCPP,
	"cc.cc98":   langCPP,
	"cc.cc98o2": langCPP,
	"cc.cc11":   langCPP,
	"cc.cc11o2": langCPP,
	"cc.cc14":   langCPP,
	"cc.cc14o2": langCPP,
	"cc.cc17":   langCPP,
	"cc.cc17o2": langCPP,
	"cc.cc20":   langCPP,
	"cc.cc20o2": langCPP,
	"c":         langC,
	"java":      langJava,
	"kt":        langKotlin,
	"kt.jvm":    langKotlin,
	"py":        langPython,
	"py.py2":    langPython,
	"py.py3":    langPython,
	"py.pypy3":  langPython,
	"rs":        langRust,
	"js":        langJavaScript,
	"ts":        langTypeScript,
	"go":        langGo,
	"cs":        langCSharp,
	"scala":     langScala,
	"swift":     langSwift,
	"pas":       textWithExtension(".pas"),
	"php":       textWithExtension(".php"),
	"hs":        textWithExtension(".hs"),
	"rb":        textWithExtension(".rb"),
	"bash":      textWithExtension(".sh"),
}

var languagePrefixes = []struct {
	prefix string
	lang   Language
}{
	{"cc.", langCPP},
	{"c++", langCPP},
	{"c.", langC},
	{"python", langPython},
	{"javascript", langJavaScript},
	{"typescript", langTypeScript},
}

var toolLanguages = map[string]Language{
	"cpp":        langCPP,
	"c":          langC,
	"java":       langJava,
	"kotlin":     langKotlin,
	"python3":    langPython,
	"rust":       langRust,
	"javascript": langJavaScript,
	"typescript": langTypeScript,
	"go":         langGo,
	"csharp":     langCSharp,
	"scala":      langScala,
	"swift":      langSwift,
	"text":       TextLanguage,
}

// ResolveLanguage maps a contest language id to the tool language
func ResolveLanguage(id string) Language {
	id = strings.ToLower(strings.TrimSpace(id))
	if lang, ok := languageTable[id]; ok {
		return lang
	}
	for _, p := range languagePrefixes {
		if strings.HasPrefix(id, p.prefix) {
			return p.lang
		}
	}
	return TextLanguage
}

// SupportedLanguages lists every tool language, sorted by tool name
func SupportedLanguages() []Language {
	langs := make([]Language, 0, len(toolLanguages))
	for _, name := range sortedKeys(toolLanguages) {
		langs = append(langs, toolLanguages[name])
	}
	return langs
}

// ToolLanguage looks a language up by its tool name
func ToolLanguage(name string) (Language, bool) {
	lang, ok := toolLanguages[strings.ToLower(name)]
	return lang, ok
}

// DominantLanguage picks the most frequent tool language among contest language ids.
// Ties go to the lexically smaller tool name.
func DominantLanguage(ids []string) Language {
	if len(ids) == 0 {
		return TextLanguage
	}
	counts := make(map[string]int)
	langs := make(map[string]Language)
	for _, id := range ids {
		lang := ResolveLanguage(id)
		counts[lang.Tool]++
		if _, ok := langs[lang.Tool]; !ok {
			langs[lang.Tool] = lang
		}
	}
	names := sortedKeys(counts)
	sort.SliceStable(names, func(i, j int) bool {
		return counts[names[i]] > counts[names[j]]
	})
	return langs[names[0]]
}
