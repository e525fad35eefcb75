package handler

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/geektown/Nano-Bananary/internal/config"
	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// ContextUserIDKey 认证中间件写入请求上下文的用户ID键
const ContextUserIDKey = "userId"

// GenerateToken 为用户签发 JWT
func GenerateToken(cfg *config.JWTConfig, user *model.User) (string, error) {
	expireHours := cfg.ExpireHours
	if expireHours <= 0 {
		expireHours = 24
	}

	claims := jwt.MapClaims{
		"userId": user.ID,
		"email":  user.Email,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Duration(expireHours) * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// JWTAuthMiddleware 认证中间件
// 校验 Authorization: Bearer <token>，通过后把用户ID写入上下文
func JWTAuthMiddleware(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "缺少 Authorization 请求头")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "Authorization 请求头格式错误")
			c.Abort()
			return
		}

		tokenString := authHeader[len("Bearer "):]

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			response.Unauthorized(c, "令牌无效或已过期")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["userId"] == nil {
			response.Unauthorized(c, "令牌载荷无效")
			c.Abort()
			return
		}

		// JWT 数字类声明统一按 float64 解出
		userID, ok := claims["userId"].(float64)
		if !ok {
			response.Unauthorized(c, "令牌载荷无效")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, int64(userID))
		c.Next()
	}
}

// CurrentUserID 读取认证中间件写入的用户ID
func CurrentUserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserIDKey)
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
