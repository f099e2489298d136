// Package board は掲示板サービスの内部実装を提供する。
//
// 投稿はSQLiteに保存する。投稿作成時には作成者の情報を
// メンバーサービスからサービス名で取得し、レジストリに登録された
// 健全なインスタンスの中から呼び出し先を選択する。
package board
