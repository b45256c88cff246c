package rest

import (
	"context"
	"crypto/hmac"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/electvote/internal/apperr"
	"github.com/lvdashuaibi/electvote/internal/model"
)

const voterKey = "voter"

// RequestLogger 记录每个请求的方法、路径、状态码和耗时
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("请求失败", fields...)
			return
		}
		logger.Info("请求完成", fields...)
	}
}

// RequestTimeout 为请求上下文设置超时
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// AdminAuth 校验管理员令牌
func AdminAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := bearerToken(c)
		if adminToken == "" || got == "" || !hmac.Equal([]byte(got), []byte(adminToken)) {
			abortWithError(c, nil, apperr.Unauthorized("Invalid admin token"))
			return
		}
		c.Next()
	}
}

// VoterAuth 校验选民投票令牌，并把选民放入上下文
func VoterAuth(tokens TokenService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortWithError(c, logger, apperr.Unauthorized("Missing voter token"))
			return
		}
		voter, err := tokens.Validate(c.Request.Context(), raw)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}
		c.Set(voterKey, voter)
		c.Next()
	}
}

func currentVoter(c *gin.Context) *model.Voter {
	return c.MustGet(voterKey).(*model.Voter)
}

// abortWithError 按错误分类返回状态码，内部错误只记录日志不返回细节
func abortWithError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if kind == apperr.KindInternal && logger != nil {
		logger.Error("内部错误",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, model.ErrorResponse{
		Error:   http.StatusText(status),
		Message: apperr.Message(err),
	})
}
