package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/utils"
	"github.com/orris-inc/adfree/internal/shared/version"
)

// ClientVersion answers 426 to clients that announce a version below minimum.
// Requests without the header pass.
func ClientVersion(minimum string) gin.HandlerFunc {
	return func(c *gin.Context) {
		announced := c.GetHeader(constants.HeaderClientVersion)
		if announced != "" && !version.AtLeast(announced, minimum) {
			utils.ErrorResponse(c, http.StatusUpgradeRequired, "client version "+announced+" is no longer supported")
			c.Abort()
			return
		}
		c.Next()
	}
}
