package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

var RedisClient *redis.Client

// BalanceCacheTTL 余额缓存有效期
// 外部写路径最多可能读到 30s 的旧值，下一次变更会立即覆盖
const BalanceCacheTTL = 30 * time.Second

func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}

// BalanceKey 余额缓存键
func BalanceKey(walletID string) string {
	return fmt.Sprintf("wallet:balance:%s", walletID)
}

// BalanceCache 余额读穿缓存
// 缓存故障不影响主流程：读失败回源数据库，写失败只记日志
type BalanceCache struct {
	client *redis.Client
}

func NewBalanceCache(client *redis.Client) *BalanceCache {
	return &BalanceCache{client: client}
}

// Get 读取缓存余额，未命中或缓存不可用返回 (zero, false)
func (c *BalanceCache) Get(ctx context.Context, walletID string) (decimal.Decimal, bool) {
	val, err := c.client.Get(ctx, BalanceKey(walletID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[BalanceCache] 读取缓存失败: wallet=%s, err=%v", walletID, err)
		}
		return decimal.Zero, false
	}
	balance, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return balance, true
}

// Set 写入缓存余额（状态变更成功后写穿）
func (c *BalanceCache) Set(ctx context.Context, walletID string, balance decimal.Decimal) {
	if err := c.client.Set(ctx, BalanceKey(walletID), balance.StringFixed(2), BalanceCacheTTL).Err(); err != nil {
		log.Printf("[BalanceCache] 写入缓存失败: wallet=%s, err=%v", walletID, err)
	}
}

// Invalidate 删除缓存余额（管理操作 / 转账完成后）
func (c *BalanceCache) Invalidate(ctx context.Context, walletIDs ...string) {
	for _, id := range walletIDs {
		if err := c.client.Del(ctx, BalanceKey(id)).Err(); err != nil {
			log.Printf("[BalanceCache] 删除缓存失败: wallet=%s, err=%v", id, err)
		}
	}
}
