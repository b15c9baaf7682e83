package auth

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultUserHeader заголовок, в котором шлюз передает id пользователя
const DefaultUserHeader = "X-User-ID"

var ErrUnauthorized = errors.New("no authenticated user")

// Authenticator извлекает пользователя из запроса
type Authenticator struct {
	header string
}

func NewAuthenticator(header string) *Authenticator {
	if header == "" {
		header = DefaultUserHeader
	}
	return &Authenticator{header: header}
}

// UserID возвращает идентификатор пользователя, выполнившего запрос
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(a.header))
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}
