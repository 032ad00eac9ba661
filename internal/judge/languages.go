package judge

import "strings"

// Language maps a user-facing language to a Piston runtime.
type Language struct {
	Name      string
	Runtime   string
	Version   string
	Extension string
	Available bool
}

var languages = []Language{
	{Name: "python", Runtime: "python", Version: "3.10.0", Extension: "py", Available: true},
	{Name: "cpp", Runtime: "cpp", Version: "10.2.0", Extension: "cpp", Available: true},
	{Name: "java", Runtime: "java", Version: "15.0.2", Extension: "java", Available: true},
	{Name: "c", Runtime: "c", Version: "10.2.0", Extension: "c", Available: true},
	{Name: "go", Runtime: "go", Version: "1.16.2", Extension: "go", Available: false},
	{Name: "javascript", Runtime: "javascript", Version: "18.15.0", Extension: "js", Available: true},
}

var aliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"c++":     "cpp",
	"js":      "javascript",
	"node":    "javascript",
	"golang":  "go",
}

// DefaultLanguage is used when a request names none.
const DefaultLanguage = "python"

// LookupLanguage resolves a name or alias. Unavailable runtimes are not returned.
func LookupLanguage(name string) (Language, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = DefaultLanguage
	}
	if a, ok := aliases[n]; ok {
		n = a
	}
	for _, l := range languages {
		if l.Name == n {
			return l, l.Available
		}
	}
	return Language{}, false
}

// Languages returns the full table including unavailable entries.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}
