package frame

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Metadata is the self-describing half of a frame.
// The known fields are the ones this module's producers write;
// anything else found in a frame lands in Extra,
// and anything in Extra is written back at the top level.
//
// Timestamps are written in UTC,
// so a decoded Timestamp is always in time.UTC
// whatever location it was encoded from.
// Compare timestamps with time.Time.Equal.
type Metadata struct {
	Timestamp   time.Time
	Description string
	Tags        []string
	FileName    string

	Extra map[string]interface{}
}

const (
	keyFileName    = "fileName"
	keyTimestamp   = "timestamp"
	keyDescription = "description"
	keyTags        = "tags"
)

func isKnownKey(k string) bool {
	switch k {
	case keyFileName, keyTimestamp, keyDescription, keyTags:
		return true
	}
	return false
}

type knownFields struct {
	FileName    string     `json:"fileName,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// MarshalJSON implements json.Marshaler.
// Known fields come first, then extra keys in sorted order.
// Empty known fields are omitted.
// The timestamp is converted to UTC.
func (m Metadata) MarshalJSON() ([]byte, error) {
	k := knownFields{
		FileName:    m.FileName,
		Description: m.Description,
		Tags:        m.Tags,
	}
	if !m.Timestamp.IsZero() {
		t := m.Timestamp.UTC()
		k.Timestamp = &t
	}
	b, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}

	var keys []string
	for key := range m.Extra {
		if isKnownKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return b, nil
	}
	sort.Strings(keys)

	empty := len(b) == 2
	buf := bytes.NewBuffer(b[:len(b)-1])
	for _, key := range keys {
		v, err := json.Marshal(m.Extra[key])
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling metadata key %q", key)
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling metadata key %q", key)
		}
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// A known key whose value has an unexpected shape
// (say, a numeric timestamp from some other producer)
// is kept in Extra rather than rejected.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("metadata is not a JSON object")
	}

	*m = Metadata{}

	for key, val := range raw {
		var ok bool
		switch key {
		case keyFileName:
			var s string
			if ok = json.Unmarshal(val, &s) == nil; ok {
				m.FileName = s
			}
		case keyDescription:
			var s string
			if ok = json.Unmarshal(val, &s) == nil; ok {
				m.Description = s
			}
		case keyTags:
			var tags []string
			if ok = json.Unmarshal(val, &tags) == nil; ok {
				m.Tags = tags
			}
		case keyTimestamp:
			var s string
			if json.Unmarshal(val, &s) == nil {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					m.Timestamp = t
					ok = true
				}
			}
		}
		if ok {
			continue
		}

		var v interface{}
		if err := json.Unmarshal(val, &v); err != nil {
			return errors.Wrapf(err, "decoding metadata key %q", key)
		}
		if m.Extra == nil {
			m.Extra = make(map[string]interface{})
		}
		m.Extra[key] = v
	}
	return nil
}

// Get returns the value of a metadata key,
// known or extra,
// in the shape it has in JSON.
func (m Metadata) Get(key string) (interface{}, bool) {
	switch key {
	case keyFileName:
		return m.FileName, m.FileName != ""
	case keyDescription:
		return m.Description, m.Description != ""
	case keyTags:
		return m.Tags, len(m.Tags) > 0
	case keyTimestamp:
		if m.Timestamp.IsZero() {
			return nil, false
		}
		return m.Timestamp.UTC().Format(time.RFC3339Nano), true
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Set sets an extra metadata key.
// Known keys are written from their own fields, so setting one here has no effect on output.
func (m *Metadata) Set(key string, val interface{}) {
	if m.Extra == nil {
		m.Extra = make(map[string]interface{})
	}
	m.Extra[key] = val
}
