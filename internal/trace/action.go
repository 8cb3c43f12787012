package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Params is the ordered parameter object of a tool invocation.
// Keys keep the order in which they appeared in the raw record.
// A Params value is read-only once built.
type Params struct {
	keys   []string
	values map[string]any
}

// ParamsFromMap builds Params from a plain map. Keys are sorted because
// Go maps carry no order.
func ParamsFromMap(m map[string]any) Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]any, len(m))
	for k, v := range m {
		values[k] = v
	}
	return Params{keys: keys, values: values}
}

// Get returns the raw decoded value of a parameter.
func (p Params) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Keys returns parameter names in record order.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.keys)
}

// Map returns a shallow copy of the parameters as a plain map.
func (p Params) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Text returns the string form of a parameter used for matching:
// strings verbatim, every other JSON value re-encoded compactly.
func (p Params) Text(name string) (string, bool) {
	v, ok := p.values[name]
	if !ok {
		return "", false
	}
	return ValueText(v), true
}

// ValueText renders a decoded JSON value as matching text.
func ValueText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case nil:
		return "null"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// MarshalJSON writes the parameters in record order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order.
// A JSON null decodes to empty Params. Numbers are kept as json.Number
// so their textual form survives re-encoding.
func (p *Params) UnmarshalJSON(data []byte) error {
	*p = Params{}
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("params: expected object, got %v", tok)
	}

	p.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("params: expected key, got %v", tok)
		}

		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("params: value for %q: %w", key, err)
		}
		if _, dup := p.values[key]; !dup {
			p.keys = append(p.keys, key)
		}
		p.values[key] = val
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Action is one observed tool invocation.
type Action struct {
	Tool      string    `json:"tool"`
	Params    Params    `json:"params"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// String renders the action as "Tool(k=v, ...)" with values truncated,
// the form used in failure explanations.
func (a Action) String() string {
	var buf bytes.Buffer
	buf.WriteString(a.Tool)
	buf.WriteByte('(')
	for i, k := range a.Params.keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%s", k, Preview(ValueText(a.Params.values[k]), PreviewWidth))
	}
	buf.WriteByte(')')
	return buf.String()
}

// PreviewWidth is the number of characters kept by Preview.
const PreviewWidth = 60

// Preview truncates s to width runes, marking the cut with "...".
func Preview(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
