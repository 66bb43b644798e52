package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/medora-backend/internal/auth"
	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/response"
	"go.uber.org/zap"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
)

// JWTAuth JWT 认证中间件
func JWTAuth(jwtManager *auth.JWTManager, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization")
			return
		}

		token, err := auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		claims, err := jwtManager.VerifyAccessToken(token)
		if err != nil {
			log.Warn("invalid access token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()))
			if errors.Is(err, auth.ErrTokenExpired) {
				response.ErrorWithCode(c, apperrors.ErrAuthTokenExpired)
				return
			}
			response.ErrorWithCode(c, apperrors.ErrAuthInvalidToken)
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalJWTAuth 可选的 JWT 认证中间件（token 无效不拦截）
func OptionalJWTAuth(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		token, err := auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.Next()
			return
		}

		claims, err := jwtManager.VerifyAccessToken(token)
		if err != nil {
			c.Next()
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

func setIdentity(c *gin.Context, claims *auth.JWTClaims) {
	c.Set(ctxUserID, claims.UserID)
	c.Set(ctxEmail, claims.Email)
	c.Request = c.Request.WithContext(logger.WithOwnerID(c.Request.Context(), claims.UserID))
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ctxUserID)
	return userID, userID != ""
}

// GetEmail 从上下文获取用户邮箱
func GetEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}
