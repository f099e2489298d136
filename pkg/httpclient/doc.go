// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 呼び出し先は固定のベースURL、またはサービス名で指定する。
// サービス名で指定した場合は呼び出しのたびにレジストリから健全なインスタンスを選択し、
// 認証済みユーザー情報をX-USER-ID / X-USER-ROLEヘッダーとして伝播する。
package httpclient
