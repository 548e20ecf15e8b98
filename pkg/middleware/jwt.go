package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleAuthenticated はログイン済みユーザーのロール。
	RoleAuthenticated = "authenticated"
	// RoleServiceRole はサーバー間呼び出し用のサービスロール。
	RoleServiceRole = "service_role"
)

// コンテキストキー
const (
	ctxKeyUserID      = "user_id"
	ctxKeyEmail       = "email"
	ctxKeyRole        = "role"
	ctxKeyAccessToken = "access_token"
)

// JWTClaims はバックエンドの認証サービスが発行するJWTのクレームを表す。
// ユーザーIDはsubクレームに入る。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Role は"authenticated"や"service_role"などのロール。
	Role string `json:"role"`
}

// GenerateJWT はバックエンドと同じ形式のJWTを生成する。
// ローカル開発とテストで使用する。
func GenerateJWT(secret, userID, email, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{RoleAuthenticated},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "supabase",
		},
		Email: email,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークンを検証してクレームを返す。HS256以外の署名は受け付けない。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("JWTの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("JWTが無効です")
	}
	if claims.Role != RoleServiceRole && claims.Subject == "" {
		return nil, fmt.Errorf("JWTにsubクレームがありません")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにユーザーID・メールアドレス・ロール・トークン本体を設定する。
// トークン本体はバックエンド呼び出し時にユーザー権限を引き継ぐために使う。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No autorizado: falta la cabecera Authorization",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No autorizado: formato de token no válido",
			})
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "No autorizado: token no válido o caducado",
			})
			return
		}

		c.Set(ctxKeyUserID, claims.Subject)
		c.Set(ctxKeyEmail, claims.Email)
		c.Set(ctxKeyRole, claims.Role)
		c.Set(ctxKeyAccessToken, tokenString)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// GetEmail はGinコンテキストからメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return c.GetString(ctxKeyEmail)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// GetAccessToken はGinコンテキストから検証済みのトークン本体を取得する。
func GetAccessToken(c *gin.Context) string {
	return c.GetString(ctxKeyAccessToken)
}
