package dataset

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// SegmentSpec describes one position of a dimension key.
type SegmentSpec struct {
	Name     string   `yaml:"name"`
	Class    string   `yaml:"class"`
	Length   int      `yaml:"length"`
	Min      int      `yaml:"min"`
	Max      int      `yaml:"max"`
	Examples []string `yaml:"examples"`
	Hint     string   `yaml:"hint"`
}

// Pattern is the expected key layout of one dataflow.
type Pattern struct {
	Source   string        `yaml:"source"`
	Dataflow string        `yaml:"dataflow"`
	Required bool          `yaml:"required"`
	Segments []SegmentSpec `yaml:"segments"`
}

// Names returns the segment names joined like a key, e.g. FREQ.REF_AREA.INDICATOR.
func (p Pattern) Names() string {
	names := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		names[i] = s.Name
	}
	return strings.Join(names, ".")
}

// Example builds a key from the first example of every segment.
func (p Pattern) Example() string {
	parts := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		parts[i] = s.example()
	}
	return strings.Join(parts, ".")
}

func (s SegmentSpec) example() string {
	if len(s.Examples) > 0 {
		return s.Examples[0]
	}
	return strings.ToLower(s.Name)
}

func (s SegmentSpec) describe() string {
	if s.Hint != "" {
		return s.Hint
	}
	return strings.ToLower(s.Name) + " code"
}

var classes = map[string]*regexp.Regexp{
	"alpha":   regexp.MustCompile(`^[A-Za-z]+$`),
	"numeric": regexp.MustCompile(`^[0-9]+$`),
	"alnum":   regexp.MustCompile(`^[A-Za-z0-9_]+$`),
	"code":    regexp.MustCompile(`^[A-Za-z0-9_\-]+$`),
}

// accepts reports whether value fits the segment. Empty values are wildcards.
func (s SegmentSpec) accepts(value string) bool {
	if value == "" {
		return true
	}
	for _, alt := range strings.Split(value, "+") {
		if alt == "" {
			return false
		}
		if re, ok := classes[s.Class]; ok && !re.MatchString(alt) {
			return false
		}
		n := len(alt)
		if s.Length > 0 && n != s.Length {
			return false
		}
		if s.Min > 0 && n < s.Min {
			return false
		}
		if s.Max > 0 && n > s.Max {
			return false
		}
	}
	return true
}

// KeyCheck is the outcome of validating a dimension key. Fatal issues stop a
// fetch before any network call; the rest only become suggestions when the
// source returns no data.
type KeyCheck struct {
	Valid       bool     `json:"valid"`
	Fatal       bool     `json:"fatal"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

var keyCharset = regexp.MustCompile(`^[A-Za-z0-9_.+\-*@:]*$`)

// Validator checks keys against a table of known dataflow layouts.
type Validator struct {
	patterns map[string]Pattern
	bySource map[string][]string
}

// LoadPatterns decodes a YAML pattern table.
func LoadPatterns(data []byte) ([]Pattern, error) {
	var out []Pattern
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode key patterns: %w", err)
	}
	for i, p := range out {
		if p.Source == "" || p.Dataflow == "" {
			return nil, fmt.Errorf("key pattern %d: source and dataflow are required", i)
		}
	}
	return out, nil
}

// NewValidator indexes patterns by source and dataflow (case-insensitive).
func NewValidator(patterns []Pattern) *Validator {
	v := &Validator{patterns: map[string]Pattern{}, bySource: map[string][]string{}}
	for _, p := range patterns {
		v.patterns[patternKey(p.Source, p.Dataflow)] = p
		if p.Dataflow != "*" {
			src := strings.ToLower(p.Source)
			v.bySource[src] = append(v.bySource[src], p.Dataflow)
		}
	}
	for _, flows := range v.bySource {
		sort.Strings(flows)
	}
	return v
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
)

// DefaultValidator returns the validator built from the embedded table.
func DefaultValidator() *Validator {
	defaultOnce.Do(func() {
		patterns, err := LoadPatterns(defaultPatterns)
		if err != nil {
			panic(err)
		}
		defaultValidator = NewValidator(patterns)
	})
	return defaultValidator
}

func patternKey(source, dataflow string) string {
	return strings.ToLower(source) + "/" + strings.ToLower(dataflow)
}

// Pattern finds the layout for a dataflow, falling back to the source's "*" entry.
func (v *Validator) Pattern(source, dataflow string) (Pattern, bool) {
	if p, ok := v.patterns[patternKey(source, dataflow)]; ok {
		return p, true
	}
	p, ok := v.patterns[patternKey(source, "*")]
	return p, ok
}

// Dataflows lists the dataflows with a known layout for a source.
func (v *Validator) Dataflows(source string) []string {
	return append([]string(nil), v.bySource[strings.ToLower(source)]...)
}

// Validate checks key for the given dataflow. Unknown dataflows only get the
// generic character checks.
func (v *Validator) Validate(source, dataflow, key string) KeyCheck {
	if strings.TrimSpace(key) != key || !keyCharset.MatchString(key) {
		return KeyCheck{
			Fatal:       true,
			Issues:      []string{fmt.Sprintf("key %q contains characters outside A-Z, 0-9, '_', '-', '.', '+'", key)},
			Suggestions: []string{"separate dimensions with '.' and alternatives with '+', without spaces"},
		}
	}

	if len(key) > MaxKeyLength {
		return KeyCheck{
			Fatal:  true,
			Issues: []string{fmt.Sprintf("key is %d characters long, the limit is %d", len(key), MaxKeyLength)},
		}
	}

	p, ok := v.Pattern(source, dataflow)
	if !ok {
		return KeyCheck{Valid: true}
	}

	if key == "" {
		if p.Required {
			return KeyCheck{
				Fatal:       true,
				Issues:      []string{fmt.Sprintf("a key is required for %s/%s", source, dataflow)},
				Suggestions: []string{fmt.Sprintf("expected %s, e.g. %s", p.Names(), p.Example())},
			}
		}
		return KeyCheck{Valid: true}
	}

	got := strings.Split(key, ".")
	if len(got) != len(p.Segments) {
		return KeyCheck{
			Fatal:       true,
			Issues:      []string{fmt.Sprintf("expected %d segments (%s), got %d", len(p.Segments), p.Names(), len(got))},
			Suggestions: countSuggestions(p, got),
		}
	}

	check := KeyCheck{Valid: true}
	for i, seg := range p.Segments {
		if seg.accepts(got[i]) {
			continue
		}
		check.Valid = false
		check.Issues = append(check.Issues,
			fmt.Sprintf("segment %s (position %d) %q does not look like %s", seg.Name, i+1, got[i], seg.describe()))
		fixed := append([]string(nil), got...)
		fixed[i] = seg.example()
		check.Suggestions = append(check.Suggestions,
			fmt.Sprintf("%s should be %s, e.g. %s", seg.Name, seg.describe(), strings.Join(fixed, ".")))
	}
	return check
}

// MaxKeyLength is the longest dimension key accepted.
const MaxKeyLength = 256

// Keys with more surplus segments than this only get the generic suggestion;
// placing them is combinatorial in the segment count.
const maxExtraSegments = 2

type candidate struct {
	key   string
	score int
	note  string
}

// countSuggestions proposes keys with the right number of segments by placing
// the given segments where their character classes fit best.
func countSuggestions(p Pattern, got []string) []string {
	want := len(p.Segments)
	var cands []candidate

	if len(got) < want {
		for _, slots := range combinations(want, len(got)) {
			parts := make([]string, want)
			filled := map[int]bool{}
			score := 0
			for gi, slot := range slots {
				parts[slot] = got[gi]
				filled[slot] = true
				if got[gi] != "" && p.Segments[slot].accepts(got[gi]) {
					score++
				}
			}
			var missing []string
			for i, seg := range p.Segments {
				if !filled[i] {
					parts[i] = seg.example()
					missing = append(missing, seg.describe())
				}
			}
			cands = append(cands, candidate{
				key:   strings.Join(parts, "."),
				score: score,
				note:  "did you mean to add " + strings.Join(missing, " and ") + "?",
			})
		}
	} else if len(got) <= want+maxExtraSegments {
		for _, keep := range combinations(len(got), want) {
			parts := make([]string, want)
			kept := map[int]bool{}
			score := 0
			for slot, gi := range keep {
				parts[slot] = got[gi]
				kept[gi] = true
				if got[gi] != "" && p.Segments[slot].accepts(got[gi]) {
					score++
				}
			}
			var dropped []string
			for i, g := range got {
				if !kept[i] {
					dropped = append(dropped, fmt.Sprintf("%q", g))
				}
			}
			cands = append(cands, candidate{
				key:   strings.Join(parts, "."),
				score: score,
				note:  "did you mean to drop " + strings.Join(dropped, ", ") + "?",
			})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].key < cands[j].key
	})

	var out []string
	seen := map[string]bool{}
	for _, c := range cands {
		if len(out) == 3 {
			break
		}
		if seen[c.key] {
			continue
		}
		seen[c.key] = true
		out = append(out, fmt.Sprintf("%s e.g. %s", c.note, c.key))
	}

	out = append(out, fmt.Sprintf("expected %s, e.g. %s", p.Names(), p.Example()))
	if want > 1 {
		parts := strings.Split(p.Example(), ".")
		parts[want-1] = ""
		out = append(out, "leave a segment empty to match every code, e.g. "+strings.Join(parts, "."))
	}
	return out
}

// combinations returns every increasing k-subset of 0..n-1 in lexical order.
func combinations(n, k int) [][]int {
	var out [][]int
	cur := make([]int, 0, k)
	var rec func(start int)
	rec = func(start int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i <= n-(k-len(cur)); i++ {
			cur = append(cur, i)
			rec(i + 1)
			cur = cur[:len(cur)-1]
		}
	}
	rec(0)
	return out
}
