// Package gateway はAPI Gatewayのリクエストパイプラインを提供する。
//
// 外部からアクセス可能な唯一の入口であり、セキュリティの境界線として機能する。
// 受け付けたリクエストは次の順にフィルタを通過する。
//
//  1. クライアントが送ったX-USER-ID / X-USER-ROLEの除去
//  2. 公開パスの判定
//  3. アクセストークンの検証と認証済みユーザー情報の付与
//  4. ルートの決定、レジストリからのインスタンス選択、転送
//
// いずれかのフィルタで拒否されたリクエストは、エラーの種別に応じた
// ステータスコードと汎用メッセージで応答する。詳細はログにのみ出力する。
package gateway
