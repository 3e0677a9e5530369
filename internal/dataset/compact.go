package dataset

import (
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

var (
	periodFields = []string{"TIME_PERIOD", "time_period", "period", "date", "year", "time", "YEAR", "TIME"}
	valueFields  = []string{"OBS_VALUE", "obs_value", "value", "VALUE"}
	wrapperKeys  = []string{"observations", "data", "rows", "records"}
)

// Row fields that describe an observation rather than select it.
var attributeFields = map[string]bool{
	"unit": true, "units": true, "obs_status": true, "decimal": true, "footnotes": true,
	"realtime_start": true, "realtime_end": true, "periodname": true, "latest": true,
	"scale": true, "unit_mult": true, "obs_flag": true, "lastupdated": true,
}

// parseCompact handles flat row layouts: arrays of objects, wrapped arrays,
// World Bank style [meta, rows] pairs and header-row tables.
func parseCompact(root any, opts Options) ([]industry.ObservationRecord, string, bool) {
	rows, layout, ok := compactRows(root)
	if !ok {
		return nil, "", false
	}
	if len(rows) == 0 {
		return nil, layout, true
	}

	var records []industry.ObservationRecord
	matched := false
	for _, row := range rows {
		recs, ok := compactRowRecords(row, opts)
		if !ok {
			continue
		}
		matched = true
		records = append(records, recs...)
	}
	if !matched {
		return nil, "", false
	}
	return records, layout, true
}

func compactRows(root any) ([]map[string]any, string, bool) {
	switch v := root.(type) {
	case []any:
		if len(v) == 0 {
			return nil, "array", true
		}
		if table, ok := tableRows(v); ok {
			return table, "table", true
		}
		// World Bank: [ {page, pages, total...}, [rows] | null ]
		if len(v) == 2 {
			if meta, ok := v[0].(map[string]any); ok {
				if _, paged := meta["page"]; paged {
					if v[1] == nil {
						return nil, "paged", true
					}
					if inner, ok := v[1].([]any); ok {
						rows, ok := objectRows(inner)
						return rows, "paged", ok
					}
				}
			}
		}
		rows, ok := objectRows(v)
		return rows, "array", ok
	case map[string]any:
		for _, key := range wrapperKeys {
			inner, ok := v[key].([]any)
			if !ok {
				continue
			}
			rows, ok := objectRows(inner)
			if ok {
				return rows, "wrapped:" + key, true
			}
		}
	}
	return nil, "", false
}

func objectRows(items []any) ([]map[string]any, bool) {
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		rows = append(rows, m)
	}
	return rows, true
}

// tableRows converts [[header...], [row...], ...] into objects. The header
// order is preserved through the synthetic "__columns" entry.
func tableRows(items []any) ([]map[string]any, bool) {
	header, ok := items[0].([]any)
	if !ok || len(header) == 0 {
		return nil, false
	}
	cols := make([]string, len(header))
	var unique []string
	seen := map[string]bool{}
	for i, h := range header {
		s, ok := h.(string)
		if !ok {
			return nil, false
		}
		cols[i] = s
		if !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}
	rows := make([]map[string]any, 0, len(items)-1)
	for _, item := range items[1:] {
		cells, ok := item.([]any)
		if !ok || len(cells) != len(cols) {
			return nil, false
		}
		row := make(map[string]any, len(cols)+1)
		// Repeated columns (Census echoes predicates) keep their first value.
		for i, c := range cols {
			if _, dup := row[c]; !dup {
				row[c] = cells[i]
			}
		}
		row[columnsKey] = unique
		rows = append(rows, row)
	}
	return rows, true
}

const columnsKey = "__columns"

func compactRowRecords(row map[string]any, opts Options) ([]industry.ObservationRecord, bool) {
	period, periodKey := firstScalar(row, periodFields)
	if period == "" {
		period = opts.DefaultPeriod
	}
	if period == "" {
		return nil, false
	}

	skip := map[string]bool{periodKey: true, columnsKey: true}
	var valueKeys []string
	if len(opts.ValueFields) > 0 {
		for _, f := range opts.ValueFields {
			if _, ok := row[f]; ok {
				valueKeys = append(valueKeys, f)
			}
		}
	} else if _, key := firstPresent(row, valueFields); key != "" {
		valueKeys = []string{key}
	}
	if len(valueKeys) == 0 {
		return nil, false
	}
	for _, k := range valueKeys {
		skip[k] = true
	}

	dims, attrs := rowDimensions(row, skip, opts)
	wide := len(opts.ValueFields) > 0

	out := make([]industry.ObservationRecord, 0, len(valueKeys))
	for _, vk := range valueKeys {
		rec := industry.ObservationRecord{
			TimePeriod: period,
			Value:      CoerceValue(row[vk]),
			Dimensions: append([]industry.Dimension(nil), dims...),
			Attributes: copyAttrs(attrs),
		}
		if wide {
			rec.Dimensions = append(rec.Dimensions, industry.Dimension{Name: "MEASURE", Code: vk})
			rec.Attributes[industry.AttrMeasure] = vk
		}
		out = append(out, rec)
	}
	return out, true
}

func rowDimensions(row map[string]any, skip map[string]bool, opts Options) ([]industry.Dimension, map[string]string) {
	keys, _ := row[columnsKey].([]string)
	if keys == nil {
		keys = sortedKeys(row)
	}

	attrs := map[string]string{}
	var dims []industry.Dimension
	for _, k := range keys {
		if skip[k] {
			continue
		}
		lk := strings.ToLower(k)
		switch v := row[k].(type) {
		case map[string]any:
			// {"id": "NY.GDP.MKTP.CD", "value": "GDP (current US$)"}
			id, _ := scalarString(v["id"])
			if id == "" {
				continue
			}
			dims = append(dims, industry.Dimension{Name: k, Code: id})
			if label, ok := v["value"].(string); ok && label != "" {
				attrs[k+"_label"] = label
			}
		case nil, []any:
			continue
		default:
			s, _ := scalarString(v)
			switch {
			case k == opts.LabelField, k == opts.DescriptionField:
				attrs[k] = s
			case attributeFields[lk]:
				attrs[attrName(lk)] = s
			case strings.HasSuffix(lk, "_label") || lk == "label" || lk == "title" || lk == "name":
				attrs[k] = s
			default:
				dims = append(dims, industry.Dimension{Name: k, Code: s})
			}
		}
	}

	if opts.LabelField != "" && attrs[industry.AttrLabel] == "" {
		attrs[industry.AttrLabel] = attrs[opts.LabelField]
	}
	if opts.DescriptionField != "" {
		attrs[industry.AttrDescription] = attrs[opts.DescriptionField]
	}
	for _, k := range []string{"title", "label", "name"} {
		if attrs[industry.AttrLabel] == "" && attrs[k] != "" {
			attrs[industry.AttrLabel] = attrs[k]
		}
	}
	for k, v := range attrs {
		if v == "" {
			delete(attrs, k)
		}
	}
	return dims, attrs
}

func attrName(lower string) string {
	if lower == "units" {
		return industry.AttrUnit
	}
	return lower
}

func firstScalar(row map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s, ok := scalarString(v); ok && s != "" {
				return s, k
			}
		}
	}
	return "", ""
}

func firstPresent(row map[string]any, keys []string) (any, string) {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v, k
		}
	}
	return nil, ""
}

func copyAttrs(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
