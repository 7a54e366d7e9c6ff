// Package secret holds values that must never leak into logs or API
// responses in cleartext: environment values, basic-auth credentials,
// OAuth client secrets, registry passwords.
package secret

import "encoding/json"

const redactedPlaceholder = "***"

// Masked wraps a sensitive string. It forbids accidental disclosure through
// fmt/logrus (String/GoString never return the value) and through JSON
// encoding (MarshalJSON always emits the placeholder). The only sanctioned
// way to read the value back out is Reveal, which callers should invoke
// only at the point the engine call that needs it is made.
type Masked struct {
	value string
}

func New(value string) Masked {
	return Masked{value: value}
}

// Reveal returns the underlying value. Callers must not log or re-export it.
func (m Masked) Reveal() string { return m.value }

func (m Masked) IsEmpty() bool { return m.value == "" }

// String implements fmt.Stringer, keeping the value out of %v/%s formatting
// and therefore out of logrus fields built from structs that embed Masked.
func (m Masked) String() string { return redactedPlaceholder }

// GoString implements fmt.GoStringer, keeping %#v (used by some debug
// formatters and panics) from exposing the value too.
func (m Masked) GoString() string { return redactedPlaceholder }

// MarshalJSON always serializes as a redacted placeholder so Masked fields
// are safe to embed directly in API response structs.
func (m Masked) MarshalJSON() ([]byte, error) {
	return json.Marshal(redactedPlaceholder)
}

// UnmarshalJSON accepts the cleartext value from trusted input paths (the
// on-disk .scotty.yml, a create-app request body) — only the outbound
// direction is redacted.
func (m *Masked) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	m.value = s
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for .scotty.yml's environment map.
func (m *Masked) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	m.value = s
	return nil
}

// MarshalYAML lets AppSettings round-trip to disk (the ground truth copy),
// where the cleartext value must be persisted — this is the one path that
// intentionally writes the real value back out.
func (m Masked) MarshalYAML() (any, error) {
	return m.value, nil
}
