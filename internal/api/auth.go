package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
)

const basicRealm = `Basic realm="Admin Area"`

// AdminCredential is the static operator login. When PasswordHash holds a
// bcrypt hash it is used instead of Password.
type AdminCredential struct {
	Username     string
	Password     string
	PasswordHash string
}

func (c AdminCredential) matches(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.Username)) == 1
	var passOK bool
	if c.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(c.Password)) == 1
	}
	return userOK && passOK
}

// requireAdmin gates next behind HTTP Basic auth. Unauthenticated requests
// get 401 with a challenge and never reach next. Correct credentials always
// pass; only wrong ones count against the client address.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)

		user, pass, ok := r.BasicAuth()
		if ok && s.admin.matches(user, pass) {
			metrics.RecordAuthAttempt("success")
			s.limiter.Reset(addr)
			next.ServeHTTP(w, r)
			return
		}

		if ok {
			if s.limiter.Blocked(addr) {
				metrics.RecordAuthAttempt("limited")
				w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter(addr)))
				s.sendError(w, http.StatusTooManyRequests, "too many failed login attempts")
				return
			}
			s.limiter.Fail(addr)
			logging.WithContext(r.Context()).Warn("admin login failed",
				zap.String("remote", addr),
				zap.String("user", user))
		}

		metrics.RecordAuthAttempt("failure")
		w.Header().Set("WWW-Authenticate", basicRealm)
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
