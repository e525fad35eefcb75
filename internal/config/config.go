package config

import (
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	GenAI    GenAIConfig    `mapstructure:"genai"`
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

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvent string `mapstructure:"credit_event"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// GenAIConfig 外部生成式 AI 服务配置
type GenAIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	ImageModel     string `mapstructure:"image_model"`
	VideoModel     string `mapstructure:"video_model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BusinessConfig struct {
	SignupRewardCredits   int64 `mapstructure:"signup_reward_credits"`   // 注册赠送积分
	RefundWindowHours     int   `mapstructure:"refund_window_hours"`     // 用量退款窗口
	PaymentTimeoutMinutes int   `mapstructure:"payment_timeout_minutes"` // 待支付单超时时间
	MaxRetryCount         int   `mapstructure:"max_retry_count"`         // 发件箱最大重试次数
	RequireVerifiedEmail  bool  `mapstructure:"require_verified_email"`  // 登录是否要求邮箱已验证
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	return config, nil
}
