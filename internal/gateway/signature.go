package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
	maxClockSkew    = 5 * time.Minute
)

// SlackSignature returns the v0 signature Slack sends for body at ts.
func SlackSignature(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySlackSignature rejects requests that were not signed with secret or
// whose timestamp is more than five minutes off.
func VerifySlackSignature(secret string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ts := c.GetHeader(timestampHeader)
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed request timestamp"})
			return
		}
		skew := now().Sub(time.Unix(sec, 0))
		if skew > maxClockSkew || skew < -maxClockSkew {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "stale request"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		expected := SlackSignature(secret, ts, body)
		if !hmac.Equal([]byte(expected), []byte(c.GetHeader(signatureHeader))) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
