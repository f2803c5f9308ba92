package handler

import (
	"net/http"
	"strconv"
	"time"

	"walletsvc/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// requestIDKey 请求标识在 gin 上下文中的键
const requestIDKey = "requestID"

// RequestID 读取 X-Request-ID 头并放入上下文
// 有无该头决定状态变更操作是否走幂等协议
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDKey, c.GetHeader("X-Request-ID"))
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RateLimit 按客户端 IP 的滑动窗口限流
// 与风控的提现窗口同一套有序集合玩法；限流器故障时放行请求
func RateLimit(redisClient *redis.Client, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "ratelimit:" + c.ClientIP()
		now := time.Now()
		cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

		pipe := redisClient.TxPipeline()
		pipe.ZAdd(ctx, key, &redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
		card := pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			c.Next()
			return
		}

		if card.Val() > int64(max) {
			response.Fail(c, response.New(http.StatusTooManyRequests, "请求过于频繁，请稍后重试", "RateLimited"))
			c.Abort()
			return
		}
		c.Next()
	}
}
