package dataset

import (
	"fmt"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

var simplifiedRoots = []string{"values", "observations"}

// parseSimplified handles nested maps whose leaves are period→value maps,
// e.g. {"values": {"NGDP_RPCH": {"USA": {"2022": 1.9}}}}.
func parseSimplified(root any, opts Options) ([]industry.ObservationRecord, string, bool) {
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, "", false
	}
	var tree map[string]any
	var layout string
	for _, k := range simplifiedRoots {
		if m, ok := obj[k].(map[string]any); ok {
			tree, layout = m, "nested:"+k
			break
		}
	}
	if tree == nil {
		return nil, "", false
	}

	names := opts.DimensionNames
	if len(names) == 0 {
		if list, ok := obj["dimensions"].([]any); ok {
			for _, n := range list {
				if s, ok := n.(string); ok {
					names = append(names, s)
				}
			}
		}
	}

	w := walker{names: names}
	if !w.walk(tree, nil) {
		return nil, "", false
	}
	return w.records, layout, true
}

type walker struct {
	names   []string
	records []industry.ObservationRecord
}

func (w *walker) dimName(depth int) string {
	if depth < len(w.names) {
		return w.names[depth]
	}
	return fmt.Sprintf("DIM%d", depth+1)
}

func (w *walker) walk(node map[string]any, path []string) bool {
	if len(node) == 0 {
		return true
	}
	if isPeriodLeaf(node) {
		dims := make([]industry.Dimension, len(path))
		for i, code := range path {
			dims[i] = industry.Dimension{Name: w.dimName(i), Code: code}
		}
		for _, period := range sortedKeys(node) {
			w.records = append(w.records, industry.ObservationRecord{
				TimePeriod: period,
				Value:      CoerceValue(node[period]),
				Dimensions: append([]industry.Dimension(nil), dims...),
				Attributes: map[string]string{},
			})
		}
		return true
	}
	for _, k := range sortedKeys(node) {
		child, ok := node[k].(map[string]any)
		if !ok {
			return false
		}
		if !w.walk(child, append(append([]string(nil), path...), k)) {
			return false
		}
	}
	return true
}

// isPeriodLeaf reports whether every value is a scalar and every key a period.
func isPeriodLeaf(node map[string]any) bool {
	for k, v := range node {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
		if _, err := industry.ParsePeriod(k); err != nil {
			return false
		}
	}
	return true
}
