package apiServer

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

const SecretHeader = "X-Secret"

var (
	errMissingSecret = errors.New("missing " + SecretHeader + " header")
	errWrongSecret   = errors.New("wrong " + SecretHeader + " header")
	errNoSecret      = errors.New("no api token configured")
)

// SecretAuth accepts requests that carry token in the X-Secret header. An
// empty token rejects every request.
func SecretAuth(token string) AuthFunc {
	return func(req *http.Request) error {
		if token == "" {
			return errNoSecret
		}
		got := req.Header.Get(SecretHeader)
		if got == "" {
			return errMissingSecret
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return errWrongSecret
		}
		return nil
	}
}

func defaultAuth(*http.Request) error {
	return errNoSecret
}
