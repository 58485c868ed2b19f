package http

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/server/services"
	"github.com/gin-gonic/gin"
)

type signInRequest struct {
	AuthToken string `json:"authToken" binding:"required"`
}

type linkWalletRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
}

func (s *HTTPServer) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()

	id, err := s.identity.Authorize(ctx, req.AuthToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	claims := s.claims.Issue(id)
	if err := s.writeSession(c, claims); err != nil {
		s.logger.Error(ctx, "session signing failed", "user_id", id.ID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": s.claims.Project(claims),
		"token":   c.GetString("session_token"),
	})
}

func (s *HTTPServer) signOut(c *gin.Context) {
	s.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *HTTPServer) redirect(c *gin.Context) {
	c.Redirect(http.StatusFound, services.SafeRedirect(c.Query("callbackUrl"), s.opts.BaseURL))
}

func (s *HTTPServer) session(c *gin.Context) {
	claims, ok := sessionFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, s.claims.Project(claims))
}

func (s *HTTPServer) linkWallet(c *gin.Context) {
	claims, ok := sessionFrom(c)
	if !ok || claims.ExternalIdentityID == nil || *claims.ExternalIdentityID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req linkWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()

	res, err := s.accounts.LinkWallet(ctx, *claims.ExternalIdentityID, req.WalletAddress)
	if err != nil {
		s.writeLinkError(c, err)
		return
	}

	refreshed := s.claims.RefreshIfStale(ctx, claims, true)
	if err := s.writeSession(c, refreshed); err != nil {
		s.logger.Error(ctx, "session reissue failed", "user_id", refreshed.Subject, "error", err.Error())
	}

	if res.Merged {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"merged":  true,
			"message": "Account merged successfully! Your contribution history has been restored.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "merged": false, "message": "Wallet linked successfully!"})
}

func (s *HTTPServer) writeLinkError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidWallet):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet address"})
	case errors.Is(err, common.ErrorUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
	case errors.Is(err, common.ErrWalletConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "This wallet is already linked to another account"})
	case errors.Is(err, common.ErrMergeUserNotFound):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": common.ErrMergeUserNotFound.Error()})
	case errors.Is(err, common.ErrMergeFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": common.ErrMergeFailed.Error()})
	default:
		s.logger.Error(c.Request.Context(), "wallet link failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to link wallet"})
	}
}
