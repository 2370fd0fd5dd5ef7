package snapshot

import (
	"regexp"
	"strings"
	"sync"
)

// fnmatch reports whether name matches pattern using Unix shell-style
// globbing applied to the string as a whole: "*" matches any sequence
// of characters (including "/"), "?" matches any single character,
// and "[...]" matches a character class. This mirrors Python's
// fnmatch.fnmatch rather than path.Match/filepath.Match, which treat
// "/" as a special separator that "*" cannot cross; the ignore-pattern
// contract requires the former behavior (a bare "node_modules" pattern
// must match only the top-level entry, while "*.tmp" must match at
// any depth).
func fnmatch(pattern, name string) bool {
	re := compiledPattern(pattern)
	return re.MatchString(name)
}

var patternCache sync.Map // pattern string -> *regexp.Regexp

func compiledPattern(pattern string) *regexp.Regexp {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(translate(pattern))
	patternCache.Store(pattern, re)
	return re
}

// translate converts a shell glob pattern into an anchored regular
// expression, the same rules fnmatch.translate applies: "*" -> ".*",
// "?" -> ".", "[seq]" passed through as a character class, and every
// other character escaped literally.
func translate(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[i+1 : j])
			class = strings.ReplaceAll(class, `\`, `\\`)
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}
