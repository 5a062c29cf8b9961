// Package tlsutil 提供集中式 TLS 配置，
// 为执行服务的控制接口客户端与事件流客户端提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件），
// 并支持额外信任私有 CA。
package tlsutil
