package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter はキー（ユーザーIDまたはクライアントIP）ごとのトークンバケットを管理する。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter はperMinute回/分、burst回まで連続で許可するRateLimiterを生成する。
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

// Allow はキーのリクエストを許可するかどうかを返す。
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, ok := l.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = v
	}
	v.lastSeen = now

	// 古いエントリを掃除する
	if len(l.limiters) > 1024 {
		for k, old := range l.limiters {
			if now.Sub(old.lastSeen) > l.ttl {
				delete(l.limiters, k)
			}
		}
	}
	return v.limiter.Allow()
}

// RateLimit はレート制限を行うGinミドルウェアを返す。
// JWTAuthの後に置いた場合はユーザーID、それ以外はクライアントIPで制限する。
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetUserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Demasiadas solicitudes. Inténtalo de nuevo en unos minutos",
			})
			return
		}
		c.Next()
	}
}
