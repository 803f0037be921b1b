package config

import (
	"log"

	"OmniIngest/pkg/zlog"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	VectorDim      int    `toml:"vectorDim"`
	MetricType     string `toml:"metricType"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	SubmitTopic     string   `toml:"submitTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type ObjectStoreConfig struct {
	RootPath string `toml:"rootPath"`
}

// IngestConfig 摄取编排参数：重试、熔断、worker 数量。
// 核心组件只接收这里校验过的值，自己不读配置文件
type IngestConfig struct {
	RetryBaseDelayMs   int     `toml:"retryBaseDelayMs"`
	RetryMultiplier    float64 `toml:"retryMultiplier"`
	RetryMaxDelayMs    int     `toml:"retryMaxDelayMs"`
	RetryMaxAttempts   int     `toml:"retryMaxAttempts"`
	RetryJitter        float64 `toml:"retryJitter"`
	BreakerThreshold   int     `toml:"breakerThreshold"`
	BreakerTimeoutMs   int     `toml:"breakerTimeoutMs"`
	WorkerCount        int     `toml:"workerCount"`
	SchemaJSON         string  `toml:"schemaJson"`
	DedupCacheTTLHours int     `toml:"dedupCacheTTLHours"`
}

type Config struct {
	MainConfig        `toml:"mainConfig"`
	MysqlConfig       `toml:"mysqlConfig"`
	JwtConfig         `toml:"jwtConfig"`
	MilvusConfig      `toml:"milvusConfig"`
	KafkaConfig       `toml:"kafkaConfig"`
	AIConfig          `toml:"aiConfig"`
	LogConfig         `toml:"logConfig"`
	RedisConfig       `toml:"redisConfig"`
	ObjectStoreConfig `toml:"objectStoreConfig"`
	IngestConfig      `toml:"ingestConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := "configs/config_local.toml"
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		// 全局日志跟随配置初始化，后续所有包统一走 zlog
		zlog.Init(config.LogConfig.LogPath)
	}
	return config
}
