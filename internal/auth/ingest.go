package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"

	maxIngestBody = 4 << 20
)

// IngestSigner guards the ThingsBoard ingest endpoint with an HMAC over
// "timestamp\nbody".
type IngestSigner struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
	logger  *log.Logger
}

// NewIngestSigner constructs the ingest signature middleware.
func NewIngestSigner(secret []byte, maxSkew time.Duration, logger *log.Logger) *IngestSigner {
	if logger == nil {
		logger = log.Default()
	}
	return &IngestSigner{secret: secret, maxSkew: maxSkew, now: time.Now, logger: logger}
}

// Sign returns the hex signature for a timestamp and body.
func (s *IngestSigner) Sign(timestamp string, body []byte) string {
	return SignIngest(s.secret, timestamp, body)
}

// Wrap rejects requests with a missing, stale or wrong signature.
func (s *IngestSigner) Wrap(next http.Handler) http.Handler {
	if s == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		timestamp := strings.TrimSpace(r.Header.Get(HeaderIngestTimestamp))
		signature := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderIngestSignature)))
		if timestamp == "" || signature == "" {
			http.Error(w, "missing ingest signature", http.StatusUnauthorized)
			return
		}
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid ingest timestamp", http.StatusUnauthorized)
			return
		}
		if s.maxSkew > 0 {
			skew := s.now().Sub(time.Unix(sec, 0))
			if skew < 0 {
				skew = -skew
			}
			if skew > s.maxSkew {
				http.Error(w, "ingest signature expired", http.StatusUnauthorized)
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		if !hmac.Equal([]byte(signature), []byte(s.Sign(timestamp, body))) {
			s.logger.Printf("ingest auth: signature mismatch from %s", r.RemoteAddr)
			http.Error(w, "invalid ingest signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// SignIngest computes the ingest signature for a secret.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
