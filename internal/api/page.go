package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Page is the normalized form of every list response.
type Page[T any] struct {
	Items      []T
	Page       int
	TotalPages int
	Count      int
	Next       string
	Previous   string
}

func (p Page[T]) HasNext() bool {
	return p.Next != "" || p.Page < p.TotalPages
}

// envelopePaths lists where list endpoints put their items, in the order
// they are tried.
var envelopePaths = [][]string{
	{"results"},
	{"details", "results"},
	{"details"},
	{"data", "results"},
	{"data"},
	{"items"},
	{"events"},
	{"orders"},
	{"meal_plans"},
}

type pageMeta struct {
	TotalPages *int            `json:"total_pages"`
	Count      *int            `json:"count"`
	Next       json.RawMessage `json:"next"`
	Previous   json.RawMessage `json:"previous"`
}

// DecodePage normalizes a list response: a bare array, or an object that
// keeps the array under one of envelopePaths. An object with none of them
// is an empty page. page is the page that was requested.
func DecodePage[T any](raw []byte, page int) (Page[T], error) {
	out := Page[T]{Page: page}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		out.TotalPages = page
		return out, nil
	}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &out.Items); err != nil {
			return Page[T]{}, fmt.Errorf("decode list: %w", err)
		}
		out.TotalPages = page
		out.Count = len(out.Items)
		return out, nil
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return Page[T]{}, fmt.Errorf("decode page envelope: %w", err)
	}
	applyMeta(&out, raw)

	for _, path := range envelopePaths {
		container, items, ok := lookupArray(root, path)
		if !ok {
			continue
		}
		if err := json.Unmarshal(items, &out.Items); err != nil {
			return Page[T]{}, fmt.Errorf("decode %v: %w", path, err)
		}
		if container != nil {
			applyMeta(&out, container)
		}
		break
	}

	if out.TotalPages == 0 {
		out.TotalPages = page
		if out.Next != "" {
			out.TotalPages = page + 1
		}
	}
	if out.Count == 0 {
		out.Count = len(out.Items)
	}
	return out, nil
}

// lookupArray follows path through nested objects and returns the array at
// its end together with the object holding it when that object is nested.
func lookupArray(root map[string]json.RawMessage, path []string) (json.RawMessage, json.RawMessage, bool) {
	obj := root
	var container json.RawMessage
	for i, key := range path {
		v, ok := obj[key]
		if !ok {
			return nil, nil, false
		}
		v = bytes.TrimSpace(v)
		if i == len(path)-1 {
			if len(v) == 0 || v[0] != '[' {
				return nil, nil, false
			}
			return container, v, true
		}
		next := map[string]json.RawMessage{}
		if len(v) == 0 || v[0] != '{' || json.Unmarshal(v, &next) != nil {
			return nil, nil, false
		}
		obj, container = next, v
	}
	return nil, nil, false
}

// applyMeta fills pagination fields that are present in raw and not yet set.
func applyMeta[T any](p *Page[T], raw json.RawMessage) {
	var m pageMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	if m.TotalPages != nil && p.TotalPages == 0 {
		p.TotalPages = *m.TotalPages
	}
	if m.Count != nil && p.Count == 0 {
		p.Count = *m.Count
	}
	if s := rawString(m.Next); s != "" && p.Next == "" {
		p.Next = s
	}
	if s := rawString(m.Previous); s != "" && p.Previous == "" {
		p.Previous = s
	}
}

func rawString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
