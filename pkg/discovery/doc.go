// Package discovery はサービスがレジストリに参加するためのクライアントを提供する。
//
// ClientはレジストリのHTTP APIを呼び出し、Agentは起動時の登録、
// 定期的なハートビート、停止時の登録解除を担当する。
package discovery
