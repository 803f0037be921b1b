package http

import (
	"context"
	"fmt"
	"time"

	"OmniIngest/internal/config"
	"OmniIngest/internal/initial"
	jwtMiddleware "OmniIngest/internal/middleware/jwt"
	"OmniIngest/internal/modules/ingest/application/service"
	"OmniIngest/internal/modules/ingest/domain/repository"
	"OmniIngest/internal/modules/ingest/infrastructure/dedup"
	"OmniIngest/internal/modules/ingest/infrastructure/embedding"
	"OmniIngest/internal/modules/ingest/infrastructure/extraction"
	"OmniIngest/internal/modules/ingest/infrastructure/mq"
	"OmniIngest/internal/modules/ingest/infrastructure/mq/kafka"
	"OmniIngest/internal/modules/ingest/infrastructure/objectstore"
	"OmniIngest/internal/modules/ingest/infrastructure/persistence"
	"OmniIngest/internal/modules/ingest/infrastructure/queue"
	"OmniIngest/internal/modules/ingest/infrastructure/vectordb"
	ingestHandler "OmniIngest/internal/modules/ingest/interface/http"
	"OmniIngest/pkg/back"
	pkgredis "OmniIngest/pkg/redis"
	"OmniIngest/pkg/resilience"
	"OmniIngest/pkg/ssl"
	"OmniIngest/pkg/util"
	"OmniIngest/pkg/util/myjwt"
	"OmniIngest/pkg/xerr"
	"OmniIngest/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var GE *gin.Engine

// SubmitWorker 异步提交消费端，main 负责启动；Kafka 未配置时为 nil
var SubmitWorker *queue.SubmitWorker

// Publisher main 在退出时负责关闭；Kafka 未配置时为 nil
var Publisher mq.Publisher

func init() {
	conf := config.GetConfig()
	ctx := context.Background()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	docRepo := persistence.NewDocumentRepository(initial.GormDB)

	store, err := objectstore.NewLocalStore(conf.ObjectStoreConfig.RootPath)
	if err != nil {
		zlog.Fatal("object store init failed: " + err.Error())
	}

	// 抽取链路：eino 模型 → 分类错误的抽取器 → 带重试和熔断的客户端
	chatModel, cmMeta, err := extraction.NewChatModelFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal("chat model init failed: " + err.Error())
	}
	zlog.Info("chat model ready", zap.String("provider", cmMeta.Provider), zap.String("model", cmMeta.Model))

	inner, err := extraction.NewEinoExtractor(chatModel, store)
	if err != nil {
		zlog.Fatal("extractor init failed: " + err.Error())
	}
	clock := resilience.SystemClock()
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: conf.IngestConfig.BreakerThreshold,
		OpenTimeout:      time.Duration(conf.IngestConfig.BreakerTimeoutMs) * time.Millisecond,
	}, clock)
	retryCfg := resilience.RetryConfig{
		BaseDelay:   time.Duration(conf.IngestConfig.RetryBaseDelayMs) * time.Millisecond,
		Multiplier:  conf.IngestConfig.RetryMultiplier,
		MaxDelay:    time.Duration(conf.IngestConfig.RetryMaxDelayMs) * time.Millisecond,
		MaxAttempts: conf.IngestConfig.RetryMaxAttempts,
		Jitter:      conf.IngestConfig.RetryJitter,
	}
	extractor := extraction.NewClient(inner, breaker, retryCfg, clock, zlog.L())

	var index repository.SearchIndex
	if initial.MilvusClient != nil {
		embedder, emMeta, err := embedding.NewEmbedderFromConfig(ctx, conf)
		if err != nil {
			zlog.Fatal("embedder init failed: " + err.Error())
		}
		zlog.Info("embedder ready", zap.String("provider", emMeta.Provider), zap.Int("dim", emMeta.Dim))
		index, err = vectordb.NewMilvusIndex(initial.MilvusClient, embedder, conf.MilvusConfig.CollectionName, emMeta.Dim)
		if err != nil {
			zlog.Fatal("milvus index init failed: " + err.Error())
		}
	} else {
		zlog.Info("milvus 未配置，索引写入降级为空操作")
		index = vectordb.NewNoopIndex()
	}

	var cache repository.DedupCache
	if pkgredis.IsConnected() {
		ttl := time.Duration(conf.IngestConfig.DedupCacheTTLHours) * time.Hour
		cache = dedup.NewRedisCache(ttl)
	}

	ingestSvc := service.NewIngestService(docRepo, store, extractor, index, cache, conf.IngestConfig.SchemaJSON, zlog.L())

	// Kafka 可选：未配置 broker 时只提供同步提交接口
	if len(conf.KafkaConfig.Brokers) > 0 {
		topic := conf.KafkaConfig.SubmitTopic
		if err := kafka.EnsureTopic(kafka.TopicAdminConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		}, topic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
			zlog.Fatal("kafka topic init failed: " + err.Error())
		}
		Publisher, err = kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			zlog.Fatal("kafka publisher init failed: " + err.Error())
		}
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: conf.KafkaConfig.Brokers,
			GroupID: conf.KafkaConfig.ConsumerGroupID,
			Topics:  []string{topic},
		})
		if err != nil {
			zlog.Fatal("kafka consumer init failed: " + err.Error())
		}
		SubmitWorker = queue.NewSubmitWorker(ingestSvc, consumer, conf.IngestConfig.WorkerCount, zlog.L())
		zlog.Info("submit queue ready", zap.String("topic", topic), zap.Int("workers", conf.IngestConfig.WorkerCount))
	}

	ingestH := ingestHandler.NewIngestHandler(ingestSvc, Publisher, conf.KafkaConfig.SubmitTopic)

	// 服务间调用用共享密钥换取短期 JWT
	GE.POST("/auth/token", func(c *gin.Context) {
		var req struct {
			Service string `json:"service" binding:"required"`
			Key     string `json:"key" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
			return
		}
		if conf.JwtConfig.Key == "" || req.Key != conf.JwtConfig.Key {
			back.Error(c, xerr.Unauthorized, "invalid service key")
			return
		}
		token, err := myjwt.GenerateToken(util.GenerateShortUUID(), req.Service)
		if err != nil {
			zlog.Error("issue token failed", zap.Error(err))
			back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
			return
		}
		back.Success(c, gin.H{"token": token})
	})

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"uuid":     c.GetString("uuid"),
			"username": c.GetString("username"),
		})
	})
	authed.POST("/ingest/submitFile", ingestH.Submit)
	authed.POST("/ingest/submitAsync", ingestH.SubmitAsync)
	authed.POST("/ingest/getDocument", ingestH.GetDocument)

	zlog.Info(fmt.Sprintf("路由注册完成，对象存储根目录: %s", conf.ObjectStoreConfig.RootPath))
}
