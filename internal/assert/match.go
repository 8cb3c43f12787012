package assert

import (
	"regexp"
	"sync"

	"github.com/gobwas/glob"

	"github.com/tatimblin/aptitude/internal/trace"
)

// pattern is a parameter pattern compiled for the glob, regex and
// exact cascade. A nil glob or re means the text is not valid in that
// syntax and the stage is skipped.
type pattern struct {
	text string
	glob glob.Glob
	re   *regexp.Regexp
}

func compilePattern(text string) *pattern {
	p := &pattern{text: text}
	// No separators: "*" also matches "/".
	if g, err := glob.Compile(text); err == nil {
		p.glob = g
	}
	if re, err := regexp.Compile(text); err == nil {
		p.re = re
	}
	return p
}

func (p *pattern) match(value string) bool {
	if p.glob != nil && p.glob.Match(value) {
		return true
	}
	if p.re != nil && p.re.MatchString(value) {
		return true
	}
	return value == p.text
}

// MatchParam reports whether value satisfies pattern under the glob,
// regex, exact cascade.
func MatchParam(pattern, value string) bool {
	return compilePattern(pattern).match(value)
}

// patternCache shares compiled patterns across evaluations.
type patternCache struct {
	mu       sync.Mutex
	patterns map[string]*pattern
}

func (c *patternCache) get(text string) *pattern {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.patterns[text]; ok {
		return p
	}
	if c.patterns == nil {
		c.patterns = make(map[string]*pattern)
	}
	p := compilePattern(text)
	c.patterns[text] = p
	return p
}

// mismatch describes one declared parameter an action did not satisfy.
type mismatch struct {
	key     string
	pattern string
	actual  string
	missing bool
}

// matchParams checks every declared pattern against the action's
// parameters in key order. A declared parameter the action lacks never
// matches.
func (c *patternCache) matchParams(patterns map[string]string, params trace.Params) []mismatch {
	var out []mismatch
	for _, k := range sortedKeys(patterns) {
		value, ok := params.Text(k)
		if !ok {
			out = append(out, mismatch{key: k, pattern: patterns[k], missing: true})
			continue
		}
		if !c.get(patterns[k]).match(value) {
			out = append(out, mismatch{key: k, pattern: patterns[k], actual: value})
		}
	}
	return out
}
