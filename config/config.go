package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	LockLocal = "local"
	LockETCD  = "etcd"
	LockRedis = "redis"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Token     TokenConfig     `mapstructure:"token"`
	Lock      LockConfig      `mapstructure:"lock"`
	ETCD      ETCDConfig      `mapstructure:"etcd"`
	Election  ElectionConfig  `mapstructure:"election"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Email     EmailConfig     `mapstructure:"email"`
	GraphQL   GraphQLConfig   `mapstructure:"graphql"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AdminToken     string        `mapstructure:"admin_token"`
	BackendURL     string        `mapstructure:"backend_url"`
	FrontendURL    string        `mapstructure:"frontend_url"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// 数据缓存Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	VoteTopic  string   `mapstructure:"vote_topic"`
	EmailTopic string   `mapstructure:"email_topic"`
	GroupID    string   `mapstructure:"group_id"`
	Workers    int      `mapstructure:"workers"`
}

type TokenConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RetryCount    int           `mapstructure:"retry_count"`
}

type ETCDConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// LeaseTTL etcd锁租约的最短秒数
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

type ElectionConfig struct {
	Timezone         string        `mapstructure:"timezone"`
	DefaultDuration  time.Duration `mapstructure:"default_duration"`
	StartTriggerLead time.Duration `mapstructure:"start_trigger_lead"`
	EndTriggerLag    time.Duration `mapstructure:"end_trigger_lag"`
	MinTriggerDelay  time.Duration `mapstructure:"min_trigger_delay"`
	SchedulerTimeout time.Duration `mapstructure:"scheduler_timeout"`
}

// Location 解析选举时区
func (c ElectionConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
}

type EmailConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	SenderName     string        `mapstructure:"sender_name"`
	SenderEmail    string        `mapstructure:"sender_email"`
	PreTemplateID  int64         `mapstructure:"pre_template_id"`
	PostTemplateID int64         `mapstructure:"post_template_id"`
	Timezone       string        `mapstructure:"timezone"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryMax       int           `mapstructure:"retry_max"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var AppConfig Config

var secretKeys = []string{
	"server.admin_token",
	"token.secret",
	"mysql.master",
	"mysql.slave",
	"redis.password",
	"scheduler.api_key",
	"email.api_key",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.backend_url", "http://localhost:8080")
	v.SetDefault("server.frontend_url", "http://localhost:3000")

	v.SetDefault("storage.driver", StorageMySQL)

	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.data_address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", 3*time.Second)
	v.SetDefault("redis.cache_ttl", time.Hour)

	v.SetDefault("kafka.vote_topic", "electvote.votes")
	v.SetDefault("kafka.email_topic", "electvote.emails")
	v.SetDefault("kafka.group_id", "electvote")
	v.SetDefault("kafka.workers", 8)

	v.SetDefault("token.ttl", 24*time.Hour)

	v.SetDefault("lock.backend", LockLocal)
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("lock.retry_interval", 20*time.Millisecond)
	v.SetDefault("lock.retry_count", 3)

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.lease_ttl", 10)

	v.SetDefault("election.timezone", "UTC")
	v.SetDefault("election.default_duration", 14*24*time.Hour)
	v.SetDefault("election.start_trigger_lead", time.Hour)
	v.SetDefault("election.end_trigger_lag", time.Minute)
	v.SetDefault("election.min_trigger_delay", 2*time.Minute)
	v.SetDefault("election.scheduler_timeout", 10*time.Second)

	v.SetDefault("scheduler.base_url", "https://api.cron-job.org")
	v.SetDefault("scheduler.timeout", 10*time.Second)
	v.SetDefault("scheduler.retry_max", 2)

	v.SetDefault("email.base_url", "https://api.brevo.com")
	v.SetDefault("email.sender_name", "FUTA Election")
	v.SetDefault("email.pre_template_id", 1)
	v.SetDefault("email.post_template_id", 2)
	v.SetDefault("email.timezone", "Africa/Lagos")
	v.SetDefault("email.timeout", 10*time.Second)
	v.SetDefault("email.retry_max", 3)

	v.SetDefault("graphql.path", "/graphql")

	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件，configPath为空时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	// .env不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ELECTVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 没有默认值的密钥需要显式绑定才能从环境变量读取
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	AppConfig = cfg
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Token.Secret == "" {
		return errors.New("token.secret is required")
	}
	if c.Token.TTL <= 0 {
		return errors.New("token.ttl must be positive")
	}

	switch c.Storage.Driver {
	case StorageMySQL:
		if c.MySQL.Master == "" {
			return errors.New("mysql.master is required for the mysql storage driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Lock.Backend {
	case LockLocal, LockETCD:
	case LockRedis:
		if len(c.Redis.LockAddresses) == 0 {
			return errors.New("redis.lock_addresses is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 || c.Lock.RetryInterval <= 0 {
		return errors.New("lock.ttl and lock.retry_interval must be positive")
	}

	if _, err := c.Election.Location(); err != nil {
		return fmt.Errorf("invalid election.timezone: %w", err)
	}
	if c.Election.DefaultDuration <= 0 {
		return errors.New("election.default_duration must be positive")
	}

	if c.Email.Enabled {
		if _, err := time.LoadLocation(c.Email.Timezone); err != nil {
			return fmt.Errorf("invalid email.timezone: %w", err)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}
