package httpserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params defines parameters for Argon2id token hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashToken creates an Argon2id hash of an admin token, suitable for storing
// in ADMIN_TOKEN instead of the plaintext secret.
func HashToken(token string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(token), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	// Format: argon2id$iterations$memory$parallelism$salt$hash (base64 raw std).
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyToken checks a presented token against the configured secret. When
// the secret is an argon2id hash the comparison re-derives the key; otherwise
// it falls back to a constant-time plaintext compare.
func VerifyToken(presented, configured string) bool {
	if configured == "" {
		return false
	}
	if !strings.HasPrefix(configured, "argon2id$") {
		return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
	}
	parts := strings.Split(configured, "$")
	if len(parts) != 6 {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	actual := argon2.IDKey([]byte(presented), salt, iters, mem, par, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// AdminGuard rejects requests whose bearer token does not match the
// configured admin secret.
func (s *Server) AdminGuard() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !VerifyToken(token, s.Cfg.AdminToken) {
				writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{
					Code:    "authentication",
					Message: "admin token required",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
