package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// objectFormat is the current contract: {"errorMessage"?, "fallacyInstances"}.
type objectFormat struct{}

func (objectFormat) Name() string { return "object" }

func (objectFormat) Decode(text string) ([]Draft, bool, error) {
	if !strings.HasPrefix(text, "{") {
		return nil, false, nil
	}

	var envelope struct {
		ErrorMessage     *string         `json:"errorMessage"`
		FallacyInstances json.RawMessage `json:"fallacyInstances"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if envelope.ErrorMessage != nil && strings.TrimSpace(*envelope.ErrorMessage) != "" {
		return nil, true, fmt.Errorf("%w: %s", ErrModelReported, preview(*envelope.ErrorMessage, 200))
	}

	drafts, err := decodeInstances(envelope.FallacyInstances)
	return drafts, true, err
}

// arrayFormat is the legacy contract: a bare array of finding objects.
type arrayFormat struct{}

func (arrayFormat) Name() string { return "array" }

func (arrayFormat) Decode(text string) ([]Draft, bool, error) {
	if !strings.HasPrefix(text, "[") {
		return nil, false, nil
	}
	drafts, err := decodeInstances(json.RawMessage(text))
	return drafts, true, err
}

// decodeInstances decodes the finding list. Absent or null means no findings.
func decodeInstances(raw json.RawMessage) ([]Draft, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Draft{}, nil
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: fallacyInstances: %v", ErrDecode, err)
	}

	drafts := make([]Draft, 0, len(entries))
	for i, entry := range entries {
		d, err := decodeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: fallacyInstances[%d]: %v", ErrDecode, i, err)
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func decodeEntry(entry map[string]json.RawMessage) (Draft, error) {
	if entry == nil {
		return Draft{}, fmt.Errorf("entry is null")
	}

	var d Draft
	fields := []struct {
		keys []string
		dst  *string
	}{
		{keys: []string{"fallacy"}, dst: &d.Fallacy},
		{keys: []string{"originalText"}, dst: &d.Excerpt},
		{keys: []string{"avoidance"}, dst: &d.Avoidance},
		{keys: []string{"counter"}, dst: &d.Counter},
		{keys: []string{"link", "reference"}, dst: &d.Reference},
	}
	for _, f := range fields {
		if err := requiredString(entry, f.keys, f.dst); err != nil {
			return Draft{}, err
		}
	}

	if strings.TrimSpace(d.Fallacy) == "" {
		return Draft{}, fmt.Errorf("fallacy is blank")
	}
	if strings.TrimSpace(d.Excerpt) == "" {
		return Draft{}, fmt.Errorf("originalText is blank")
	}
	return d, nil
}

// requiredString stores the first present key's value in dst. The value
// must be a JSON string; null and other types are rejected.
func requiredString(entry map[string]json.RawMessage, keys []string, dst *string) error {
	for _, k := range keys {
		v, ok := entry[k]
		if !ok {
			continue
		}
		if len(v) == 0 || v[0] != '"' {
			return fmt.Errorf("field %q is not a string", k)
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("field %q: %v", k, err)
		}
		return nil
	}
	return fmt.Errorf("missing field %q", strings.Join(keys, `" or "`))
}
