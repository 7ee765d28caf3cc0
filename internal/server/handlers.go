package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gale320/authgate/internal/observability"
)

// loginRequest is the JSON login payload. Form submissions with the same
// field names are accepted as well.
type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// handleLogin authenticates a username/password pair directly against the
// identity store and establishes a session.
func (s *Server) handleLogin(c *gin.Context) {
	if !s.loginLimiter.Allow(c.ClientIP()) {
		s.logger.Warn("login throttled",
			observability.String("client", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
		return
	}

	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || req.Username == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	sc := s.newSecurityContext()
	if !sc.Login(c.Writer, c.Request, req.Username, req.Password) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"principal": sc.AuthenticatedPrincipal().Name})
}

// handleLogout tears down the caller's session. The authentication
// middleware ran first, so an established session is attached to the
// context.
func (s *Server) handleLogout(c *gin.Context) {
	sc := SecurityContextFrom(c)
	if sc == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "no security context"})
		return
	}

	sc.Logout(c.Writer, c.Request)
	c.Status(http.StatusNoContent)
}

// handleWhoami reports the authenticated identity.
func (s *Server) handleWhoami(c *gin.Context) {
	sc := SecurityContextFrom(c)
	if sc == nil || sc.AuthenticatedPrincipal() == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	account := sc.AuthenticatedAccount()
	c.JSON(http.StatusOK, gin.H{
		"principal": sc.AuthenticatedPrincipal().Name,
		"mechanism": sc.MechanismName(),
		"roles":     account.Roles,
		"groups":    account.Groups,
	})
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
