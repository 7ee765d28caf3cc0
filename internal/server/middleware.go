package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/gale320/authgate/internal/security"
)

// securityContextKey is the gin context key holding the request's
// SecurityContext.
const securityContextKey = "authgate-security-context"

// SecurityContextFrom returns the SecurityContext attached to the request,
// or nil when the authentication middleware did not run.
func SecurityContextFrom(c *gin.Context) *security.SecurityContext {
	value, exists := c.Get(securityContextKey)
	if !exists {
		return nil
	}
	sc, ok := value.(*security.SecurityContext)
	if !ok {
		return nil
	}
	return sc
}

// Authenticate builds a SecurityContext per request and drives the
// mechanism chain. When required is true a negative outcome ends the
// request with the staged challenges; otherwise the request proceeds
// anonymously.
func (s *Server) Authenticate(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := s.newSecurityContext()
		c.Set(securityContextKey, sc)

		if required {
			sc.SetAuthenticationRequired()
		}

		// The chain may run on the handoff pool; the request goroutine
		// must not return to the HTTP server until handling finished.
		done := make(chan struct{})
		var once sync.Once
		finish := func() { once.Do(func() { close(done) }) }

		sc.AuthenticateHandled(c.Writer, c.Request,
			security.ResponseSentinelFunc(c.Writer.Written),
			func() {
				defer finish()
				c.Next()
			},
			func() {
				defer finish()
				if sc.AuthenticationError() != nil {
					s.finalizeFailure(c)
					return
				}
				s.finalizeChallenge(c)
			},
		)

		<-done
	}
}

// finalizeFailure ends a request whose authentication run aborted on a
// mechanism or store failure. Infrastructure errors are not credential
// rejections, so no challenge is sent.
func (s *Server) finalizeFailure(c *gin.Context) {
	if c.Writer.Written() {
		c.Abort()
		return
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication error"})
}

// finalizeChallenge turns staged challenge headers into a terminal
// response. A staged Location header becomes a redirect; anything else is a
// 401 with whatever WWW-Authenticate headers the mechanisms staged.
func (s *Server) finalizeChallenge(c *gin.Context) {
	if c.Writer.Written() {
		c.Abort()
		return
	}

	if location := c.Writer.Header().Get("Location"); location != "" {
		c.Redirect(http.StatusFound, location)
		c.Abort()
		return
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
}
