package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`    // 主交换机，topic 类型
	FraudQueue string `mapstructure:"fraud_queue"` // 风控消费队列
}

type BusinessConfig struct {
	// 存储层瞬时错误重试策略
	MaxRetries       int `mapstructure:"max_retries"`
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`

	// 转账 Saga：停留在 DEBITED 超过该时长视为卡住，交给恢复任务处理
	SagaStuckThresholdMs int `mapstructure:"saga_stuck_threshold_ms"`

	// 风控规则
	FraudDetectionThreshold         float64 `mapstructure:"fraud_detection_threshold"`
	FraudDetectionMaxWithdrawals    int     `mapstructure:"fraud_detection_max_withdrawals"`
	FraudDetectionTimeWindowMinutes int     `mapstructure:"fraud_detection_time_window_minutes"`

	// 消费失败的延迟重试队列（毫秒）
	RetryDelaysMs []int `mapstructure:"retry_delays_ms"`

	// 幂等记录保留时长（秒）
	IdempotencyTTLSeconds int `mapstructure:"idempotency_ttl_seconds"`

	// 限流（按客户端 IP 的滑动窗口）
	RateLimitMax           int `mapstructure:"rate_limit_max"`
	RateLimitWindowSeconds int `mapstructure:"rate_limit_window_seconds"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
// 环境变量以 WALLET_ 为前缀覆盖同名配置项，如 WALLET_MYSQL_HOST
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("WALLET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("rabbitmq.exchange", "wallet_events")
	viper.SetDefault("rabbitmq.fraud_queue", "fraud_detection")
	viper.SetDefault("business.max_retries", 10)
	viper.SetDefault("business.initial_backoff_ms", 50)
	viper.SetDefault("business.saga_stuck_threshold_ms", 60000)
	viper.SetDefault("business.fraud_detection_threshold", 10000)
	viper.SetDefault("business.fraud_detection_max_withdrawals", 3)
	viper.SetDefault("business.fraud_detection_time_window_minutes", 5)
	viper.SetDefault("business.retry_delays_ms", []int{1000, 2000, 4000})
	viper.SetDefault("business.idempotency_ttl_seconds", 86400)
	viper.SetDefault("business.rate_limit_max", 100)
	viper.SetDefault("business.rate_limit_window_seconds", 60)
}
