package storage

import (
	"encoding/json"

	"github.com/allprecisely/Ad-parser/internal/model"
)

// attrRecord is the JSON shape of a typed listing attribute. Exactly one
// field is set, matching the field kind in the category schema.
type attrRecord struct {
	Num  *int    `json:"num,omitempty"`
	Text *string `json:"text,omitempty"`
	Set  bool    `json:"set,omitempty"`
}

// rangeRecord is the JSON shape of a subscription range criterion.
type rangeRecord struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

func marshalAttrs(attrs map[string]model.Attr) (string, error) {
	records := make(map[string]attrRecord, len(attrs))
	for name, a := range attrs {
		var r attrRecord
		switch {
		case a.Set:
			r.Set = true
		case a.Text != "":
			t := a.Text
			r.Text = &t
		default:
			n := a.Num
			r.Num = &n
		}
		records[name] = r
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalAttrs(data string) (map[string]model.Attr, error) {
	var records map[string]attrRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, err
	}
	attrs := make(map[string]model.Attr, len(records))
	for name, r := range records {
		switch {
		case r.Set:
			attrs[name] = model.FlagAttr()
		case r.Text != nil:
			attrs[name] = model.TextAttr(*r.Text)
		case r.Num != nil:
			attrs[name] = model.NumAttr(*r.Num)
		}
	}
	return attrs, nil
}

func rangesToRecords(ranges map[string]model.Range) map[string]rangeRecord {
	out := make(map[string]rangeRecord, len(ranges))
	for name, r := range ranges {
		out[name] = rangeRecord{Min: r.Min, Max: r.Max}
	}
	return out
}

func rangesFromRecords(records map[string]rangeRecord) map[string]model.Range {
	if records == nil {
		return nil
	}
	out := make(map[string]model.Range, len(records))
	for name, r := range records {
		out[name] = model.Range{Min: r.Min, Max: r.Max}
	}
	return out
}
