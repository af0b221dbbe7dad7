// Package validation provides input validation for the EtherSentinel API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxBatchSize is the maximum number of addresses per batch request
const MaxBatchSize = 100

// txHashRegex validates transaction hashes (32 bytes of hex)
var txHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// IsValidTxHash checks if a string is a valid transaction hash
func IsValidTxHash(h string) bool {
	return txHashRegex.MatchString(h)
}

// NormalizeAddress lowercases an address and ensures the 0x prefix.
// Assessment subjects are stored and scored in this canonical form so the
// same address always derives the same fallback score.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.ToLower(addr)

	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}

	return addr
}

// NormalizeTxHash lowercases a transaction hash.
func NormalizeTxHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
