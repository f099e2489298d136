package gateway

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msagate/pkg/metrics"
	"github.com/nao1215/msagate/pkg/middleware"
)

var (
	// ErrRouteNotFound はリクエストパスに一致するルートが無いことを表す。
	ErrRouteNotFound = errors.New("ルートが見つかりません")
	// ErrNoHealthyInstance は転送先サービスに健全なインスタンスが無いことを表す。
	ErrNoHealthyInstance = errors.New("利用可能なインスタンスがありません")
	// ErrForwardTimeout は転送先が時間内に応答しなかったことを表す。
	ErrForwardTimeout = errors.New("転送先の応答がタイムアウトしました")
	// ErrForwardTransport は転送先との通信に失敗したことを表す。
	ErrForwardTransport = errors.New("転送先との通信に失敗しました")
)

// パイプラインの終端状態。メトリクスのラベルに使用する。
const (
	stateForwarded = "forwarded"
	stateRejected  = "rejected"
	stateServed    = "served"
)

// contextKeyForwarded は転送が完了したことを示すGinコンテキストのキー。
const contextKeyForwarded = "gateway_forwarded"

// errorResponse はエラー種別に対応するステータスコードとクライアント向けメッセージ。
type errorResponse struct {
	status  int
	message string
}

// classify はパイプラインで発生したエラーをレスポンスに対応付ける。
// 未知のエラーは内部情報を含まない500とする。
func classify(err error) errorResponse {
	switch {
	case errors.Is(err, middleware.ErrAuthMissing):
		return errorResponse{http.StatusUnauthorized, "認証が必要です"}
	case errors.Is(err, middleware.ErrAuthInvalid):
		return errorResponse{http.StatusUnauthorized, "トークンが無効です"}
	case errors.Is(err, ErrRouteNotFound):
		return errorResponse{http.StatusNotFound, "リソースが見つかりません"}
	case errors.Is(err, ErrNoHealthyInstance):
		return errorResponse{http.StatusServiceUnavailable, "サービスが一時的に利用できません"}
	case errors.Is(err, ErrForwardTimeout):
		return errorResponse{http.StatusServiceUnavailable, "サービスの応答がタイムアウトしました"}
	case errors.Is(err, ErrForwardTransport):
		return errorResponse{http.StatusBadGateway, "内部サービスとの通信に失敗しました"}
	default:
		return errorResponse{http.StatusInternalServerError, middleware.InternalErrorMessage}
	}
}

// errorFilter はパイプラインの最外周で動作し、後続のフィルタが記録したエラーを
// HTTPレスポンスに変換する。既にレスポンスが書き込まれている場合は書き換えない。
func errorFilter() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		state := stateServed
		switch {
		case c.GetBool(contextKeyForwarded):
			state = stateForwarded
		case len(c.Errors) > 0:
			state = stateRejected
			err := c.Errors.Last().Err
			resp := classify(err)
			if !c.Writer.Written() {
				c.JSON(resp.status, gin.H{"error": resp.message})
			}
			log.Printf("[Gateway] リクエストを拒否しました: %s %s status=%d: %v",
				c.Request.Method, c.Request.URL.Path, c.Writer.Status(), err)
		}
		metrics.GatewayRequests.WithLabelValues(state, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
