// Package config は各サービスの設定を環境変数とルート定義ファイルから読み込む。
//
// 環境変数が未設定の場合はローカル開発用のデフォルト値を使用する。
// Gatewayのルートは ROUTES_FILE にYAMLファイルを指定して上書きできる。
package config
