package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Required rejects console API calls until the operator has signed in to the
// upstream backend through this console.
func Required(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !store.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}
		c.Next()
	}
}
