// Package registry はサービスレジストリのHTTP APIを提供する。
//
// 各サービスはこのAPIでインスタンスを登録し、一定間隔でハートビートを送る。
// Gatewayや下流サービスは健全なインスタンス一覧を取得して転送先を決定する。
// 登録状況は /api/v1/services で、メトリクスは /metrics で確認できる。
package registry
