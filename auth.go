package main

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// errBadCredentials is returned when a request carries credentials that do
// not match any configured user.
var errBadCredentials = errors.New("invalid credentials")

// hashPassword takes a plaintext password and returns a bcrypt hash.  If hashing
// fails the program panics because it is a programmer error.
func hashPassword(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}

// checkPasswordHash verifies a plaintext password against a stored bcrypt hash.
// It returns nil if the password matches, or an error otherwise.
func checkPasswordHash(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// callerFor resolves the HTTP basic credentials of r.  Requests without
// credentials are Anonymous; requests with valid credentials act as the
// attribute owner.  Bad credentials are an error rather than a silent
// downgrade to Anonymous.
func (s *Server) callerFor(r *http.Request) (Caller, User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return Anonymous, User{}, nil
	}
	user, err := s.cfgMgr.Authenticate(username, password)
	if err != nil {
		return Anonymous, User{}, errBadCredentials
	}
	if r.TLS == nil {
		s.plainAuthWarning.Do(func() {
			s.logger.Warn("basic auth credentials accepted without TLS", "user", user.Username, "remote", r.RemoteAddr)
		})
	}
	return Caller{Name: user.Username, Owner: true}, user, nil
}

// withAuth wraps handlers that require a valid user.  It answers 401 with a
// basic-auth challenge when credentials are missing or wrong.
func (s *Server) withAuth(handler func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, user, err := s.callerFor(r)
		if err != nil || !caller.Owner {
			challenge(w)
			return
		}
		handler(w, r, user)
	}
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="ebbgpio"`)
	http.Error(w, "unauthenticated", http.StatusUnauthorized)
}
