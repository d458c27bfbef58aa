/*
Package main 提供 ContentFlow 服务端程序入口。

# 概述

cmd/contentflow 是内容生成流水线的可执行入口，提供 HTTP API 服务、
账本数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件
加载、结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器，组装存储/队列/预算/agents，管理双端口与优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（账本迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    Auth（X-API-Key 或 Bearer JWT）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 停止消费 → 断开存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
