package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/valyala/fastjson"
)

// isoLayout matches the millisecond ISO-8601 form the snapshot has always used
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// LogRecord represents one deduplicated access-log line
type LogRecord struct {
	Hash       string    `json:"hash"`
	Remote     string    `json:"remote"`
	IPv4       string    `json:"ipv4,omitempty"`
	IPv6       string    `json:"ipv6,omitempty"`
	Time       string    `json:"time"`
	TimeParsed time.Time `json:"timeParsed"`
	UserAgent  string    `json:"userAgent"`
	Payload    Payload   `json:"payload"`
}

type recordJSON struct {
	Hash       string  `json:"hash"`
	Remote     string  `json:"remote"`
	IPv4       string  `json:"ipv4,omitempty"`
	IPv6       string  `json:"ipv6,omitempty"`
	Time       string  `json:"time"`
	TimeParsed *string `json:"timeParsed"`
	UserAgent  string  `json:"userAgent"`
	Payload    Payload `json:"payload"`
}

// MarshalJSON encodes TimeParsed as UTC milliseconds, or null when unset
func (r LogRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Hash:      r.Hash,
		Remote:    r.Remote,
		IPv4:      r.IPv4,
		IPv6:      r.IPv6,
		Time:      r.Time,
		UserAgent: r.UserAgent,
		Payload:   r.Payload,
	}
	if !r.TimeParsed.IsZero() {
		ts := r.TimeParsed.UTC().Format(isoLayout)
		out.TimeParsed = &ts
	}
	return json.Marshal(out)
}

// UnmarshalJSON re-materializes TimeParsed from its text form.
// An unreadable timestamp leaves TimeParsed zero, which ages the record out.
// Older snapshots name the payload "logParsed"; it is read when "payload" is absent or null.
func (r *LogRecord) UnmarshalJSON(data []byte) error {
	var in struct {
		recordJSON
		LogParsed Payload `json:"logParsed"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Payload.Type() == fastjson.TypeNull {
		in.Payload = in.LogParsed
	}

	*r = LogRecord{
		Hash:      in.Hash,
		Remote:    in.Remote,
		IPv4:      in.IPv4,
		IPv6:      in.IPv6,
		Time:      in.Time,
		UserAgent: in.UserAgent,
		Payload:   in.Payload,
	}
	if in.TimeParsed != nil {
		if ts, err := time.Parse(time.RFC3339Nano, *in.TimeParsed); err == nil {
			r.TimeParsed = ts.UTC()
		}
	}
	return nil
}

// Level returns the payload's "level" field, or "" if absent or not a string
func (r *LogRecord) Level() string {
	return r.Payload.String("level")
}

// Payload is the decoded JSON value embedded in a log line.
// It wraps a fastjson value, so it can hold any JSON type.
type Payload struct {
	v *fastjson.Value
}

// ParsePayload parses text as a single strict JSON value. When an object
// repeats a key the last value wins and keeps the first key's position.
func ParsePayload(text string) (Payload, error) {
	// fastjson.Parse tolerates leading zeros, nan, inf and bad escapes
	if err := fastjson.Validate(text); err != nil {
		return Payload{}, err
	}
	v, err := fastjson.Parse(text)
	if err != nil {
		return Payload{}, err
	}
	return newPayload(v), nil
}

func newPayload(v *fastjson.Value) Payload {
	if !hasDuplicateKeys(v) {
		return Payload{v: v}
	}
	var a fastjson.Arena
	return Payload{v: lastKeyWins(&a, v)}
}

func hasDuplicateKeys(v *fastjson.Value) bool {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		seen := make(map[string]struct{}, o.Len())
		dup := false
		o.Visit(func(key []byte, child *fastjson.Value) {
			if dup {
				return
			}
			if _, ok := seen[string(key)]; ok {
				dup = true
				return
			}
			seen[string(key)] = struct{}{}
			dup = hasDuplicateKeys(child)
		})
		return dup
	case fastjson.TypeArray:
		items, _ := v.Array()
		for _, item := range items {
			if hasDuplicateKeys(item) {
				return true
			}
		}
	}
	return false
}

// lastKeyWins rebuilds v on a; Object.Set overwrites an existing key in place
func lastKeyWins(a *fastjson.Arena, v *fastjson.Value) *fastjson.Value {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		out := a.NewObject()
		obj, _ := out.Object()
		o.Visit(func(key []byte, child *fastjson.Value) {
			obj.Set(string(key), lastKeyWins(a, child))
		})
		return out
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := a.NewArray()
		for i, item := range items {
			out.SetArrayItem(i, lastKeyWins(a, item))
		}
		return out
	default:
		return v
	}
}

// Type reports the JSON type of the payload
func (p Payload) Type() fastjson.Type {
	if p.v == nil {
		return fastjson.TypeNull
	}
	return p.v.Type()
}

// Get returns the nested value at keys, or nil
func (p Payload) Get(keys ...string) *fastjson.Value {
	if p.v == nil {
		return nil
	}
	return p.v.Get(keys...)
}

// String returns the string stored at keys, or "" when missing or of another type
func (p Payload) String(keys ...string) string {
	v := p.Get(keys...)
	if v == nil || v.Type() != fastjson.TypeString {
		return ""
	}
	return string(v.GetStringBytes())
}

// MarshalJSON implements json.Marshaler. Object keys keep their input order.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.v == nil {
		return []byte("null"), nil
	}
	return appendValue(nil, p.v)
}

// appendValue re-encodes v; strings go through encoding/json because
// fastjson's own encoder can emit Go-only escapes for control characters.
func appendValue(dst []byte, v *fastjson.Value) ([]byte, error) {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		dst = append(dst, '{')
		var err error
		first := true
		o.Visit(func(key []byte, child *fastjson.Value) {
			if err != nil {
				return
			}
			if !first {
				dst = append(dst, ',')
			}
			first = false
			if dst, err = appendString(dst, string(key)); err != nil {
				return
			}
			dst = append(dst, ':')
			dst, err = appendValue(dst, child)
		})
		if err != nil {
			return nil, err
		}
		return append(dst, '}'), nil
	case fastjson.TypeArray:
		items, _ := v.Array()
		dst = append(dst, '[')
		for i, item := range items {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			if dst, err = appendValue(dst, item); err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	case fastjson.TypeString:
		return appendString(dst, string(v.GetStringBytes()))
	default:
		// numbers keep their source text; true, false and null are literals
		return v.MarshalTo(dst), nil
	}
}

func appendString(dst []byte, s string) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Payload) UnmarshalJSON(data []byte) error {
	if err := fastjson.ValidateBytes(data); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	v, err := fastjson.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	*p = newPayload(v)
	return nil
}

// WorkingSet maps content hash to record
type WorkingSet map[string]*LogRecord

// Live returns the members whose TimeParsed is strictly after threshold
func (ws WorkingSet) Live(threshold time.Time) WorkingSet {
	live := make(WorkingSet, len(ws))
	for hash, rec := range ws {
		if rec.TimeParsed.After(threshold) {
			live[hash] = rec
		}
	}
	return live
}

// Sorted returns the records ordered by TimeParsed, then hash
func (ws WorkingSet) Sorted() []*LogRecord {
	out := make([]*LogRecord, 0, len(ws))
	for _, rec := range ws {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TimeParsed.Equal(out[j].TimeParsed) {
			return out[i].TimeParsed.Before(out[j].TimeParsed)
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// FileFingerprint identifies a log file's content without reading it
type FileFingerprint struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Inode   uint64    `json:"inode"`
}

// RunStats tracks per-run line accounting
type RunStats struct {
	Lines      int64 `json:"lines"`
	Admitted   int64 `json:"admitted"`
	Duplicates int64 `json:"duplicates"`
	Expired    int64 `json:"expired"`
	Malformed  int64 `json:"malformed"`
}

// Add accumulates other into s
func (s *RunStats) Add(other RunStats) {
	s.Lines += other.Lines
	s.Admitted += other.Admitted
	s.Duplicates += other.Duplicates
	s.Expired += other.Expired
	s.Malformed += other.Malformed
}
