package oauth

const redacted = "[REDACTED]"

// RedactedToken holds an upstream access token. Every formatting and
// marshaling path prints "[REDACTED]"; only Value returns the token, for
// placing it into an Authorization header or a child process environment.
type RedactedToken struct {
	value string
}

func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the raw token. Never log it.
func (t RedactedToken) Value() string {
	return t.value
}

func (t RedactedToken) String() string {
	return redacted
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{" + redacted + "}"
}

func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
