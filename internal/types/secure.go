package types

// SecretString holds a sensitive value (API keys, webhook secrets) and
// redacts it from logs and JSON output. Call Unmask to read the value.
type SecretString string

const redactedPlaceholder = "[REDACTED]"

func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the underlying secret value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no secret has been set.
func (s SecretString) IsEmpty() bool {
	return s == ""
}
