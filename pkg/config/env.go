package config

import (
	"fmt"
	"strings"
	"time"
)

// getenvFunc は環境変数を取得する関数。テストで差し替える。
type getenvFunc func(key string) string

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func (g getenvFunc) getEnvOr(key, defaultValue string) string {
	if v := g(key); v != "" {
		return v
	}
	return defaultValue
}

// getDurationOr は環境変数を時間として解釈する。未設定の場合はデフォルト値を返す。
func (g getenvFunc) getDurationOr(key string, defaultValue time.Duration) (time.Duration, error) {
	v := g(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%sの値が不正です: %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%sは正の値である必要があります: %q", key, v)
	}
	return d, nil
}

// getListOr はカンマ区切りの環境変数をスライスとして返す。
// 未設定の場合はデフォルト値を返す。
func (g getenvFunc) getListOr(key string, defaultValue []string) []string {
	v := g(key)
	if v == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// durations は複数の時間設定をまとめて読み込む。最初のエラーを保持する。
type durations struct {
	getenv getenvFunc
	err    error
}

func (d *durations) get(key string, defaultValue time.Duration) time.Duration {
	if d.err != nil {
		return 0
	}
	v, err := d.getenv.getDurationOr(key, defaultValue)
	if err != nil {
		d.err = err
	}
	return v
}
