// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config 提供 agentflow-gateway 的配置管理功能。

# 概述

config 包负责网关配置的加载：按 "默认值 -> YAML 文件 -> 环境变量"
的优先级合并，产出路由核心、存储层与可观测性组件共用的单一 Config。

# 核心结构

  - Config: 顶层配置聚合，涵盖 Server、Database、Redis、Pool、
    Router、Log、Telemetry
  - Loader: 配置加载器，支持 Builder 模式链式设置文件路径、
    环境变量前缀与自定义验证器

# 使用示例

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("AGENTFLOW").
		Load()
*/
package config
