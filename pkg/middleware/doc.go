// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Gatewayのフィルタチェーンを構成する認証・公開パス判定・なりすましヘッダー除去と、
// 下流サービスがGatewayから受け取った認証済みユーザー情報を取り出す処理、
// パニックリカバリ、CORS設定を含む。
package middleware
