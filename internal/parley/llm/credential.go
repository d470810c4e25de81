package llm

// Credential holds an API key for the process lifetime. It is passed by
// value to the clients that need it and is deliberately hostile to
// accidental persistence or logging: fmt, slog, and the JSON/YAML encoders
// all see the redacted form. The persistence layer never receives a
// Credential at all.
type Credential struct {
	key string
}

// NewCredential wraps an API key.
func NewCredential(key string) Credential {
	return Credential{key: key}
}

// Reveal returns the raw key. Call sites are limited to request signing.
func (c Credential) Reveal() string {
	return c.key
}

// IsZero reports whether no key is set.
func (c Credential) IsZero() bool {
	return c.key == ""
}

// String implements fmt.Stringer with a redacted form.
func (c Credential) String() string {
	if c.key == "" {
		return "(unset)"
	}
	return "[redacted]"
}

// MarshalJSON always emits the redacted form, so a Credential that leaks
// into a serialized structure cannot carry the key with it.
func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}
