// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"study-gateway/internal/config"
	"study-gateway/internal/handler"
	"study-gateway/internal/middleware"
	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/internal/service"
	"study-gateway/pkg/database"
	"study-gateway/pkg/es"
	"study-gateway/pkg/kafka"
	"study-gateway/pkg/llm"
	"study-gateway/pkg/log"
	"study-gateway/pkg/storage"
	"study-gateway/pkg/tika"
	"study-gateway/pkg/token"
	"study-gateway/pkg/websearch"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	configPath := "./configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN, cfg.Database.MySQL.AutoMigrate)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	// Elasticsearch 只服务检索工具，初始化失败时降级为无 ES
	var esClient *elasticsearch.Client
	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败，检索工具不可使用 ES: %v", err)
		} else {
			esClient = es.ESClient
		}
	}

	// 4. 初始化 Repository
	tierRepo := repository.NewTierRepository(database.DB)
	profileRepo := repository.NewProfileRepository(database.DB)
	usageRepo := repository.NewUsageRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	threadRepo := repository.NewThreadRepository(database.DB)
	attachmentRepo := repository.NewAttachmentRepository(database.DB)
	historyRepo := repository.NewHistoryRepository(database.RDB)
	locker := repository.NewRedisLocker(database.RDB)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := tierRepo.Seed(seedCtx, tierPolicies(cfg.Tiers)); err != nil {
		log.Fatal("写入等级策略种子失败", err)
	}
	cancelSeed()

	// 5. 检索工具与用量落地方式
	search, err := websearch.NewClient(cfg.WebSearch, esClient, cfg.Elasticsearch.IndexName)
	if err != nil {
		log.Errorf("检索工具初始化失败，已禁用: %v", err)
		search = nil
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	usageWriter := service.NewUsageWriter(usageRepo)
	var usageSink service.UsageSink = usageWriter
	if cfg.Kafka.Brokers != "" {
		kafka.InitProducer(cfg.Kafka)
		usageSink = kafka.Publisher{}
		go kafka.StartConsumer(bgCtx, cfg.Kafka, usageWriter)
	} else {
		log.Info("未配置 Kafka，用量直接写入数据库")
	}
	accountant := service.NewUsageAccountant(usageSink, cfg.Usage)

	// 6. 组装回复策略链：thread 协议 → 无状态补全 → 模板兜底
	var strategies []service.Strategy
	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(cfg.LLM)
		downloader := storage.NewDownloader(storage.MinioClient, cfg.MinIO.BucketName, cfg.MinIO.MaxObjectBytes)
		attachmentService := service.NewAttachmentService(attachmentRepo, locker, downloader, llmClient)
		completion := service.NewCompletionDriver(llmClient, search, cfg.LLM, cfg.Chat, cfg.WebSearch.MaxResults)
		if cfg.Tika.ServerURL != "" {
			completion.WithDocuments(service.NewDocumentExcerpter(downloader, tika.NewClient(cfg.Tika), cfg.Tika.MaxExcerptChars))
		}
		strategies = append(strategies,
			service.NewThreadDriver(llmClient, threadRepo, attachmentService, cfg.LLM, cfg.Chat),
			completion,
		)
	} else {
		log.Warnf("未配置 llm.api_key，所有回复将使用模板兜底")
	}

	chatService := service.NewChatService(service.ChatDeps{
		Access:       service.NewAccessService(profileRepo, tierRepo, usageRepo),
		Profiles:     profileRepo,
		MessageStore: messageRepo,
		History:      historyRepo,
		Threads:      threadRepo,
		LLM:          llmClient,
		Orchestrator: service.NewOrchestrator(strategies...),
		Supplementer: service.NewSupplementer(usageRepo, search, cfg.Chat.ResearchKeywords, cfg.WebSearch.MaxResults),
		Accountant:   accountant,
	}, cfg)

	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	chatHandler := handler.NewChatHandler(chatService, jwtManager)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager))
		{
			chat.POST("", chatHandler.Chat)
			chat.GET("/quota/:assistant", chatHandler.Quota)
			chat.GET("/messages/:assistant", chatHandler.Messages)
			chat.DELETE("/threads/:assistant", chatHandler.ResetThread)
		}
	}
	// WebSocket 握手无法携带授权头，token 放在路径中
	r.GET("/chat/:token", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 先等在途的用量写完，再关闭生产者和消费者
	accountant.Wait()
	kafka.CloseProducer()
	cancelBg()
	log.Info("服务已优雅关闭")
}

func tierPolicies(tiers []config.TierConfig) []model.TierPolicy {
	out := make([]model.TierPolicy, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, model.TierPolicy{
			TierName:              t.Name,
			NoraEnabled:           t.NoraEnabled,
			NoraMessagesPerDay:    t.NoraMessagesPerDay,
			PatrickEnabled:        t.PatrickEnabled,
			PatrickMessagesPerDay: t.PatrickMessagesPerDay,
			MaxMessageLength:      t.MaxMessageLength,
			CooldownSeconds:       t.CooldownSeconds,
			AttachmentUpload:      t.AttachmentUpload,
			AttachmentSearch:      t.AttachmentSearch,
		})
	}
	return out
}
