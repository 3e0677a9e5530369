// Package dataset turns raw provider payloads into canonical observation
// records and validates SDMX-style dimension keys before they hit the network.
package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// Kind tags the structural variant a payload resolved to.
type Kind string

const (
	KindCompact    Kind = "compact"
	KindComplex    Kind = "complex"
	KindSimplified Kind = "simplified"
	KindEmpty      Kind = "empty"
	KindError      Kind = "error"
)

// Options carries the source-specific hints a parser cannot infer.
type Options struct {
	SourceID string
	// DefaultPeriod is used for rows that carry no time field (Census CBP).
	DefaultPeriod string
	// ValueFields turns a wide row into one record per listed column.
	ValueFields []string
	// SizeMeasures marks measures that estimate market size.
	SizeMeasures []string
	// LabelField names the row field or dimension whose label becomes AttrLabel.
	LabelField string
	// DescriptionField names the row field copied into AttrDescription.
	DescriptionField string
	// DimensionNames names the nesting levels of simplified payloads.
	DimensionNames []string
	// Unit is stamped on every record when the payload does not carry one.
	Unit string
}

// Result is the resolved form of one raw payload.
type Result struct {
	Kind    Kind
	Layout  string
	Records []industry.ObservationRecord
}

// MalformedError reports a payload that matched no known variant.
type MalformedError struct {
	Reason    string
	Structure string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response (%s); structure: %s", e.Reason, e.Structure)
}

type parser func(root any, opts Options) (records []industry.ObservationRecord, layout string, ok bool)

// Normalize parses payload into ordered records. The hinted variant is tried
// first, then compact, complex and simplified in that order. A well-formed
// payload without observations yields KindEmpty and no error.
func Normalize(payload []byte, hint Kind, opts Options) (Result, error) {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return Result{Kind: KindError}, &MalformedError{Reason: "invalid JSON: " + err.Error(), Structure: summarizeBytes(payload)}
	}
	return NormalizeValue(root, hint, opts)
}

// NormalizeValue is Normalize for an already decoded JSON document.
func NormalizeValue(root any, hint Kind, opts Options) (Result, error) {
	parsers := map[Kind]parser{
		KindCompact:    parseCompact,
		KindComplex:    parseComplex,
		KindSimplified: parseSimplified,
	}
	order := []Kind{KindCompact, KindComplex, KindSimplified}
	if _, ok := parsers[hint]; ok {
		reordered := []Kind{hint}
		for _, k := range order {
			if k != hint {
				reordered = append(reordered, k)
			}
		}
		order = reordered
	}

	for _, kind := range order {
		records, layout, ok := parsers[kind](root, opts)
		if !ok {
			continue
		}
		if len(records) == 0 {
			return Result{Kind: KindEmpty, Layout: layout}, nil
		}
		finish(records, opts)
		return Result{Kind: kind, Layout: layout, Records: records}, nil
	}

	return Result{Kind: KindError}, &MalformedError{Reason: "no known structural variant matched", Structure: Summarize(root)}
}

func finish(records []industry.ObservationRecord, opts Options) {
	sizes := make(map[string]bool, len(opts.SizeMeasures))
	for _, m := range opts.SizeMeasures {
		sizes[strings.ToUpper(m)] = true
	}
	for i := range records {
		r := &records[i]
		r.SourceID = opts.SourceID
		if r.Attributes == nil {
			r.Attributes = map[string]string{}
		}
		if opts.Unit != "" && r.Attributes[industry.AttrUnit] == "" {
			r.Attributes[industry.AttrUnit] = opts.Unit
		}
		if m := r.Attributes[industry.AttrMeasure]; m != "" && sizes[strings.ToUpper(m)] {
			r.Attributes[industry.AttrRole] = industry.RoleSize
		}
	}
	industry.SortRecords(records)
}

// Summarize describes the top level of a decoded JSON document.
func Summarize(root any) string {
	switch v := root.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "object{" + strings.Join(keys, ",") + "}"
	case []any:
		return fmt.Sprintf("array[%d]", len(v))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func summarizeBytes(b []byte) string {
	const max = 64
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return strconv.Quote(s)
}

// CoerceValue converts a JSON scalar into a number. Missing or unparsable
// values return nil so the record keeps its place.
func CoerceValue(v any) *float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return &t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if s == "" || s == "." || strings.EqualFold(s, "nan") || strings.EqualFold(s, "n/a") || s == "-" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	case []any:
		// SDMX-JSON observations are arrays whose first element is the value.
		if len(t) > 0 {
			return CoerceValue(t[0])
		}
	}
	return nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
