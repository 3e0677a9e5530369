package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// Dimensions that usually carry the industry breakdown of a structured dataset.
var industryDims = []string{"IND", "INDUSTRY", "ACTIVITY", "NACE_R2", "NACE", "ISIC", "ISIC4", "SECTOR"}

var timeDims = []string{"TIME_PERIOD", "TIME", "time", "PERIOD"}

// maxStatCells bounds the cube a JSON-stat payload may declare.
const maxStatCells = 1 << 24

// parseComplex handles payloads where observations are addressed by positional
// keys into separately declared dimensions: SDMX-JSON, IMF CompactData and
// JSON-stat 2.0.
func parseComplex(root any, opts Options) ([]industry.ObservationRecord, string, bool) {
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, "", false
	}
	if recs, ok := parseSDMXJSON(obj, opts); ok {
		return recs, "sdmx-json", true
	}
	if recs, ok := parseCompactData(obj, opts); ok {
		return recs, "sdmx-compact", true
	}
	if recs, ok := parseJSONStat(obj, opts); ok {
		return recs, "json-stat", true
	}
	return nil, "", false
}

type codedValue struct {
	ID   string
	Name string
}

type sdmxDim struct {
	ID     string
	Values []codedValue
}

func (d sdmxDim) at(i int) (codedValue, bool) {
	if i < 0 || i >= len(d.Values) {
		return codedValue{}, false
	}
	return d.Values[i], true
}

func parseSDMXJSON(obj map[string]any, opts Options) ([]industry.ObservationRecord, bool) {
	body := obj
	if data, ok := obj["data"].(map[string]any); ok {
		body = data
	}
	dataSets, ok := body["dataSets"].([]any)
	if !ok {
		return nil, false
	}

	structure, _ := body["structure"].(map[string]any)
	if structure == nil {
		structure, _ = obj["structure"].(map[string]any)
	}
	if structure == nil {
		if list, ok := body["structures"].([]any); ok && len(list) > 0 {
			structure, _ = list[0].(map[string]any)
		}
	}
	if len(dataSets) == 0 {
		return nil, true
	}
	if structure == nil {
		return nil, false
	}
	dims, _ := structure["dimensions"].(map[string]any)
	if dims == nil {
		return nil, false
	}
	seriesDims := sdmxDims(dims["series"])
	obsDims := sdmxDims(dims["observation"])

	var records []industry.ObservationRecord
	for _, ds := range dataSets {
		set, ok := ds.(map[string]any)
		if !ok {
			return nil, false
		}
		if series, ok := set["series"].(map[string]any); ok {
			for _, sk := range sortedKeys(series) {
				s, ok := series[sk].(map[string]any)
				if !ok {
					continue
				}
				base, ok := resolveCoords(sk, seriesDims)
				if !ok {
					continue
				}
				observations, _ := s["observations"].(map[string]any)
				for _, pos := range sortedKeys(observations) {
					obsCoords, good := resolveCoords(pos, obsDims)
					if !good {
						continue
					}
					rec := sdmxRecord(append(append([]resolved(nil), base...), obsCoords...), observations[pos], opts)
					if rec != nil {
						records = append(records, *rec)
					}
				}
			}
			continue
		}
		// AllDimensions: observations keyed by series and observation positions together.
		if observations, ok := set["observations"].(map[string]any); ok {
			all := append(append([]sdmxDim(nil), seriesDims...), obsDims...)
			for _, k := range sortedKeys(observations) {
				coords, ok := resolveCoords(k, all)
				if !ok {
					continue
				}
				if rec := sdmxRecord(coords, observations[k], opts); rec != nil {
					records = append(records, *rec)
				}
			}
		}
	}
	return records, true
}

func sdmxDims(v any) []sdmxDim {
	list, _ := v.([]any)
	out := make([]sdmxDim, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d := sdmxDim{}
		d.ID, _ = m["id"].(string)
		values, _ := m["values"].([]any)
		for _, raw := range values {
			vm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			cv := codedValue{}
			cv.ID, _ = scalarString(vm["id"])
			cv.Name = localizedName(vm["name"])
			d.Values = append(d.Values, cv)
		}
		out = append(out, d)
	}
	return out
}

// localizedName accepts a plain string or an {"en": "..."} map.
func localizedName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if en, ok := t["en"].(string); ok {
			return en
		}
		for _, k := range sortedKeys(t) {
			if s, ok := t[k].(string); ok {
				return s
			}
		}
	}
	return ""
}

type resolved struct {
	Dim   string
	Value codedValue
}

func resolveCoords(key string, dims []sdmxDim) ([]resolved, bool) {
	if len(dims) == 0 {
		return nil, key == "" || key == "0"
	}
	parts := strings.Split(key, ":")
	if len(parts) != len(dims) {
		return nil, false
	}
	out := make([]resolved, 0, len(parts))
	for i, p := range parts {
		idx, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		cv, ok := dims[i].at(idx)
		if !ok {
			return nil, false
		}
		out = append(out, resolved{Dim: dims[i].ID, Value: cv})
	}
	return out, true
}

func sdmxRecord(coords []resolved, raw any, opts Options) *industry.ObservationRecord {
	rec := industry.ObservationRecord{Attributes: map[string]string{}}
	for _, c := range coords {
		if isTimeDim(c.Dim) {
			rec.TimePeriod = c.Value.ID
			continue
		}
		rec.Dimensions = append(rec.Dimensions, industry.Dimension{Name: c.Dim, Code: c.Value.ID})
		if c.Value.Name != "" {
			rec.Attributes[c.Dim+"_label"] = c.Value.Name
		}
	}
	if rec.TimePeriod == "" {
		rec.TimePeriod = opts.DefaultPeriod
	}
	if rec.TimePeriod == "" {
		return nil
	}
	rec.Value = CoerceValue(raw)
	applyLabel(&rec, opts)
	return &rec
}

func parseCompactData(obj map[string]any, opts Options) ([]industry.ObservationRecord, bool) {
	cd, ok := obj["CompactData"].(map[string]any)
	if !ok {
		return nil, false
	}
	ds, ok := cd["DataSet"].(map[string]any)
	if !ok {
		return nil, cd["DataSet"] == nil
	}

	var records []industry.ObservationRecord
	for _, s := range oneOrMany(ds["Series"]) {
		series, ok := s.(map[string]any)
		if !ok {
			return nil, false
		}
		var dims []industry.Dimension
		attrs := map[string]string{}
		for _, k := range sortedKeys(series) {
			if !strings.HasPrefix(k, "@") {
				continue
			}
			v, _ := scalarString(series[k])
			name := strings.TrimPrefix(k, "@")
			switch strings.ToUpper(name) {
			case "UNIT_MULT", "TIME_FORMAT", "BASE_YEAR":
				attrs[strings.ToLower(name)] = v
			case "UNIT", "UNIT_MEASURE":
				attrs[industry.AttrUnit] = v
			default:
				dims = append(dims, industry.Dimension{Name: name, Code: v})
			}
		}
		for _, o := range oneOrMany(series["Obs"]) {
			obs, ok := o.(map[string]any)
			if !ok {
				continue
			}
			period, _ := scalarString(obs["@TIME_PERIOD"])
			if period == "" {
				continue
			}
			rec := industry.ObservationRecord{
				TimePeriod: period,
				Value:      CoerceValue(obs["@OBS_VALUE"]),
				Dimensions: append([]industry.Dimension(nil), dims...),
				Attributes: copyAttrs(attrs),
			}
			if status, ok := obs["@OBS_STATUS"].(string); ok {
				rec.Attributes["obs_status"] = status
			}
			applyLabel(&rec, opts)
			records = append(records, rec)
		}
	}
	return records, true
}

func oneOrMany(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

type statDim struct {
	ID     string
	Codes  []string
	Labels map[string]string
}

func parseJSONStat(obj map[string]any, opts Options) ([]industry.ObservationRecord, bool) {
	if class, _ := obj["class"].(string); class != "" && class != "dataset" {
		return nil, false
	}
	ids, ok := obj["id"].([]any)
	if !ok {
		return nil, false
	}
	sizes, ok := obj["size"].([]any)
	if !ok || len(sizes) != len(ids) {
		return nil, false
	}
	dimension, ok := obj["dimension"].(map[string]any)
	if !ok {
		return nil, false
	}

	dims := make([]statDim, len(ids))
	cells := 1
	for i, raw := range ids {
		id, ok := raw.(string)
		if !ok {
			return nil, false
		}
		size, ok := sizes[i].(float64)
		if !ok || size < 0 || size != math.Trunc(size) || size > maxStatCells {
			return nil, false
		}
		d, ok := statDimension(id, dimension[id], int(size))
		if !ok {
			return nil, false
		}
		if cells *= max(len(d.Codes), 1); cells > maxStatCells {
			return nil, false
		}
		dims[i] = d
	}

	values := map[int]any{}
	switch v := obj["value"].(type) {
	case []any:
		for i, x := range v {
			if x != nil {
				values[i] = x
			}
		}
	case map[string]any:
		for k, x := range v {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 {
				return nil, false
			}
			values[i] = x
		}
	case nil:
	default:
		return nil, false
	}

	positions := make([]int, 0, len(values))
	for i := range values {
		positions = append(positions, i)
	}
	sort.Ints(positions)

	records := make([]industry.ObservationRecord, 0, len(positions))
	for _, pos := range positions {
		coords, ok := unflatten(pos, dims)
		if !ok {
			continue
		}
		rec := industry.ObservationRecord{Attributes: map[string]string{}}
		for i, d := range dims {
			code := d.Codes[coords[i]]
			if isTimeDim(d.ID) {
				rec.TimePeriod = code
				continue
			}
			rec.Dimensions = append(rec.Dimensions, industry.Dimension{Name: d.ID, Code: code})
			if label := d.Labels[code]; label != "" {
				rec.Attributes[d.ID+"_label"] = label
			}
		}
		if rec.TimePeriod == "" {
			rec.TimePeriod = opts.DefaultPeriod
		}
		if rec.TimePeriod == "" {
			continue
		}
		rec.Value = CoerceValue(values[pos])
		applyLabel(&rec, opts)
		records = append(records, rec)
	}
	return records, true
}

func statDimension(id string, raw any, size int) (statDim, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return statDim{}, false
	}
	cat, ok := m["category"].(map[string]any)
	if !ok {
		return statDim{}, false
	}
	// The declared size may not exceed the categories the dimension lists.
	declared, _ := cat["label"].(map[string]any)
	switch idx := cat["index"].(type) {
	case map[string]any:
		if size > len(idx) {
			return statDim{}, false
		}
	case []any:
		if size > len(idx) {
			return statDim{}, false
		}
	case nil:
		if size > len(declared) {
			return statDim{}, false
		}
	}
	d := statDim{ID: id, Codes: make([]string, size), Labels: map[string]string{}}
	switch idx := cat["index"].(type) {
	case map[string]any:
		for code, pos := range idx {
			p, ok := pos.(float64)
			if !ok || int(p) < 0 || int(p) >= size {
				return statDim{}, false
			}
			d.Codes[int(p)] = code
		}
	case []any:
		if len(idx) != size {
			return statDim{}, false
		}
		for i, c := range idx {
			d.Codes[i], _ = c.(string)
		}
	case nil:
		// A single-category dimension may omit the index.
		labels, _ := cat["label"].(map[string]any)
		if size != 1 || len(labels) != 1 {
			return statDim{}, false
		}
		for code := range labels {
			d.Codes[0] = code
		}
	default:
		return statDim{}, false
	}
	if labels, ok := cat["label"].(map[string]any); ok {
		for code, l := range labels {
			if s, ok := l.(string); ok {
				d.Labels[code] = s
			}
		}
	}
	return d, true
}

// unflatten maps a row-major position onto per-dimension indices.
func unflatten(pos int, dims []statDim) ([]int, bool) {
	coords := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		n := len(dims[i].Codes)
		if n == 0 {
			return nil, false
		}
		coords[i] = pos % n
		pos /= n
	}
	return coords, pos == 0
}

func isTimeDim(id string) bool {
	for _, t := range timeDims {
		if strings.EqualFold(t, id) {
			return true
		}
	}
	return false
}

func applyLabel(rec *industry.ObservationRecord, opts Options) {
	if opts.LabelField != "" {
		if l := rec.Attributes[opts.LabelField+"_label"]; l != "" {
			rec.Attributes[industry.AttrLabel] = l
			return
		}
	}
	for _, name := range industryDims {
		for _, d := range rec.Dimensions {
			if strings.EqualFold(d.Name, name) {
				if l := rec.Attributes[d.Name+"_label"]; l != "" {
					rec.Attributes[industry.AttrLabel] = l
					return
				}
			}
		}
	}
	for i := len(rec.Dimensions) - 1; i >= 0; i-- {
		if l := rec.Attributes[rec.Dimensions[i].Name+"_label"]; l != "" {
			rec.Attributes[industry.AttrLabel] = l
			return
		}
	}
}
