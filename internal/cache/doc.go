// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的存储访问，供执行快照与待处理干预
跨进程保留。

# 概述

本包封装 go-redis 客户端。Manager 负责连接生命周期管理，包括
初始化 Ping、后台健康检查与优雅关闭，并为键统一加前缀。

# 核心类型

  - Manager：持有 Redis 客户端，提供字符串、JSON 与哈希 JSON 读写。
  - Config：地址、密码、连接池、键前缀、默认 TTL 与健康检查间隔。
  - Stats：从 INFO 解析出的键数量、内存使用与连接数。

# 主要能力

  - 键拼接：Key 以冒号连接各段并加上 KeyPrefix。
  - JSON 读写：GetJSON/SetJSON 用于执行快照，HSetJSON/HGetJSON/HGetAll/HDel
    用于按执行分组的干预记录。
  - TTL：未指定时使用 DefaultTTL。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
