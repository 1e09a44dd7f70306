package utils

import (
	"errors"
	"fmt"
	"io"
	"os"

	"htwg-backend/internal/portal"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	UsernameEnv = "HTWG_USERNAME"
	PasswordEnv = "HTWG_PASSWORD"
)

var ErrNoCredentials = errors.New("username and password are required, pass --username/--password or set " + UsernameEnv + "/" + PasswordEnv)

func NewTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

// Credentials prefers the flag values and falls back to the environment.
func Credentials(username, password string, lookup func(string) (string, bool)) portal.Credentials {
	if username == "" {
		username, _ = lookup(UsernameEnv)
	}
	if password == "" {
		password, _ = lookup(PasswordEnv)
	}
	return portal.Credentials{Username: username, Password: password}
}

func Fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
