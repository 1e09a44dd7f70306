package portal

import (
	"fmt"
	"log/slog"
)

// Credentials are the plaintext login of one user for one flow invocation.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// String never renders the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q}", c.Username)
}

func (c Credentials) GoString() string {
	return c.String()
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username))
}
