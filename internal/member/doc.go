// Package member はメンバーサービスの内部実装を提供する。
//
// メンバーIDとパスワードでログインしたメンバーにアクセストークンと
// リフレッシュトークンを発行する。パスワードはbcryptでハッシュ化して
// SQLiteに保存する。/members/login、/members/register、/members/refresh は
// Gatewayの公開パスとして認証なしで到達する。
package member
