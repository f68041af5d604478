package middleware

import (
	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/signedurl"
	"github.com/gin-gonic/gin"
)

// Context keys set by Signed.
const (
	TokenKey = "loginToken"
	StoreKey = "loginStore"
)

// Signed rejects requests whose token, store and signature query parameters
// do not verify. Rejections use invalidStatus and the same body the handlers
// send for an unknown token, so a forged link is indistinguishable from a
// stale one.
func Signed(signer *signedurl.Signer, invalidStatus int) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, store, err := signer.VerifyQuery(c.Request.URL.Query())
		if err != nil {
			c.AbortWithStatusJSON(invalidStatus, gin.H{"error": domain.ErrTokenInvalid.Error()})
			return
		}

		c.Set(TokenKey, token)
		c.Set(StoreKey, store)
		c.Next()
	}
}
