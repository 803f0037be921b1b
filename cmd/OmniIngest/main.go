package main

import (
	https_server "OmniIngest/api/http"
	"OmniIngest/internal/config"
	"OmniIngest/pkg/redis"
	"OmniIngest/pkg/zlog"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.MainConfig.Host
	port := conf.MainConfig.Port

	// 2. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		// 目前使用 HTTP 启动。如果需要 HTTPS，请配置证书并使用 GE.RunTLS
		if err := https_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}
	}()

	// 3. 启动异步提交消费端（Kafka 已配置时）
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if https_server.SubmitWorker != nil {
		go func() {
			defer close(workerDone)
			if err := https_server.SubmitWorker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				zlog.Error("提交消费端退出: " + err.Error())
			}
		}()
	} else {
		close(workerDone)
	}

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 等待退出信号
	<-quit

	zlog.Info("正在关闭服务器...")
	stopWorker()
	<-workerDone
	if https_server.SubmitWorker != nil {
		_ = https_server.SubmitWorker.Close()
	}
	if https_server.Publisher != nil {
		_ = https_server.Publisher.Close()
	}
	_ = redis.Close()
	zlog.Sync()

	zlog.Info("服务器已关闭")
}
