package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nao1215/msagate/pkg/registry"
	"github.com/nao1215/msagate/pkg/token"
)

// デフォルト値
const (
	defaultGatewayName    = "gateway"
	defaultGatewayPort    = "8080"
	defaultRegistryPort   = "8761"
	defaultFrontendURL    = "http://localhost:3000"
	defaultJWTSecret      = "dev-secret-key"
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultForwardTimeout = 10 * time.Second
)

// DefaultPublicPaths は認証不要とするパスのデフォルト。パスに含まれていれば一致とみなす。
var DefaultPublicPaths = []string{"/login", "/register", "/refresh", "/health"}

// ErrInvalidRoute はルート定義が不正であることを表す。
var ErrInvalidRoute = errors.New("ルート定義が不正です")

// Route はパス接頭辞と転送先サービスの対応。
type Route struct {
	// Prefix はリクエストパスの接頭辞（例: "/members"）。
	Prefix string
	// ServiceName は転送先の論理サービス名。
	ServiceName string
	// RequiresAuth がfalseの場合、このルートへのリクエストは認証しない。
	RequiresAuth bool
	// StripPrefix がtrueの場合、Prefixを取り除いたパスで転送する。
	StripPrefix bool
}

// Matches はpathがこのルートの接頭辞に一致するかを返す。
// "/members" は "/members" と "/members/..." に一致し、"/membership" には一致しない。
func (r Route) Matches(path string) bool {
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	rest := path[len(r.Prefix):]
	return rest == "" || rest[0] == '/' || strings.HasSuffix(r.Prefix, "/")
}

// ForwardPath は転送先に送るパスを返す。
func (r Route) ForwardPath(path string) string {
	if !r.StripPrefix {
		return path
	}
	rest := strings.TrimPrefix(path, strings.TrimSuffix(r.Prefix, "/"))
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

func (r Route) validate() error {
	if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("%w: 接頭辞は/で始まる必要があります: %q", ErrInvalidRoute, r.Prefix)
	}
	if r.ServiceName == "" {
		return fmt.Errorf("%w: %s の転送先サービスが空です", ErrInvalidRoute, r.Prefix)
	}
	return nil
}

// DefaultRoutes はGatewayのデフォルトルート。
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/members", ServiceName: "member-service", RequiresAuth: true},
		{Prefix: "/boards", ServiceName: "board-service", RequiresAuth: true},
	}
}

// Gateway はGatewayの設定。
type Gateway struct {
	// Name はレジストリに登録する自身のサービス名。
	Name string
	// Host はレジストリに登録する自インスタンスのホスト名。
	Host string
	// InstanceID は自インスタンスのID。空の場合はレジストリが採番する。
	InstanceID string
	// Port はGatewayのリッスンポート。
	Port string
	// RegistryURL は外部レジストリのベースURL。空の場合はレジストリを内蔵する。
	RegistryURL string
	// RegistryPort は内蔵レジストリのAPIを公開するポート。
	RegistryPort string
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string
	// PublicPaths は認証不要とするパスの一覧。
	PublicPaths []string
	// ForwardTimeout は転送1回あたりのタイムアウト。
	ForwardTimeout time.Duration
	// Routes はルート定義。
	Routes []Route
	// Registry は内蔵レジストリの設定。
	Registry registry.Config
	// Token はトークン検証の設定。
	Token token.Config
}

// RegistryServer は単独で起動するレジストリの設定。
type RegistryServer struct {
	// Port はレジストリAPIのリッスンポート。
	Port string
	// Registry はレジストリの設定。
	Registry registry.Config
}

// Service は下流サービス（member-service、board-service）の設定。
type Service struct {
	// Name はレジストリに登録する論理サービス名。
	Name string
	// Host はレジストリに登録する自インスタンスのホスト名。
	Host string
	// Port はリッスンポート。
	Port string
	// InstanceID は自インスタンスのID。空の場合はレジストリが採番する。
	InstanceID string
	// RegistryURL はレジストリのベースURL。
	RegistryURL string
	// HeartbeatInterval はハートビートの送信間隔。
	HeartbeatInterval time.Duration
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// Token はトークン発行・検証の設定。
	Token token.Config
}

// LoadGateway は環境変数からGatewayの設定を読み込む。
// ROUTES_FILEが指定されている場合はルート定義をファイルから読み込む。
func LoadGateway() (Gateway, error) {
	return loadGateway(os.Getenv)
}

// LoadRegistry は環境変数からレジストリの設定を読み込む。
func LoadRegistry() (RegistryServer, error) {
	return loadRegistry(os.Getenv)
}

// LoadService は環境変数から下流サービスの設定を読み込む。
// SERVICE_NAMEとPORTが未設定の場合はnameとportを使う。
func LoadService(name, port string) (Service, error) {
	return loadService(os.Getenv, name, port)
}

func loadGateway(getenv getenvFunc) (Gateway, error) {
	reg, err := loadRegistryConfig(getenv)
	if err != nil {
		return Gateway{}, err
	}
	tok, err := loadTokenConfig(getenv)
	if err != nil {
		return Gateway{}, err
	}
	forwardTimeout, err := getenv.getDurationOr("FORWARD_TIMEOUT", defaultForwardTimeout)
	if err != nil {
		return Gateway{}, err
	}

	cfg := Gateway{
		Name:           getenv.getEnvOr("SERVICE_NAME", defaultGatewayName),
		Host:           getenv.getEnvOr("SERVICE_HOST", "localhost"),
		InstanceID:     getenv("INSTANCE_ID"),
		Port:           getenv.getEnvOr("PORT", defaultGatewayPort),
		RegistryURL:    getenv("REGISTRY_URL"),
		RegistryPort:   getenv.getEnvOr("REGISTRY_PORT", defaultRegistryPort),
		FrontendURL:    getenv.getEnvOr("FRONTEND_URL", defaultFrontendURL),
		PublicPaths:    getenv.getListOr("PUBLIC_PATHS", DefaultPublicPaths),
		ForwardTimeout: forwardTimeout,
		Routes:         DefaultRoutes(),
		Registry:       reg,
		Token:          tok,
	}

	if path := getenv("ROUTES_FILE"); path != "" {
		file, err := LoadRoutesFile(path)
		if err != nil {
			return Gateway{}, err
		}
		file.apply(&cfg)
	}
	return cfg, nil
}

func loadRegistry(getenv getenvFunc) (RegistryServer, error) {
	reg, err := loadRegistryConfig(getenv)
	if err != nil {
		return RegistryServer{}, err
	}
	return RegistryServer{
		Port:     getenv.getEnvOr("PORT", defaultRegistryPort),
		Registry: reg,
	}, nil
}

func loadService(getenv getenvFunc, name, port string) (Service, error) {
	tok, err := loadTokenConfig(getenv)
	if err != nil {
		return Service{}, err
	}
	interval, err := getenv.getDurationOr("HEARTBEAT_INTERVAL", registry.DefaultConfig().HeartbeatInterval)
	if err != nil {
		return Service{}, err
	}

	name = getenv.getEnvOr("SERVICE_NAME", name)
	return Service{
		Name:              name,
		Host:              getenv.getEnvOr("SERVICE_HOST", "localhost"),
		Port:              getenv.getEnvOr("PORT", port),
		InstanceID:        getenv("INSTANCE_ID"),
		RegistryURL:       getenv.getEnvOr("REGISTRY_URL", "http://localhost:"+defaultRegistryPort),
		HeartbeatInterval: interval,
		DBPath:            getenv.getEnvOr("DB_PATH", fmt.Sprintf("/data/%s.db", name)),
		Token:             tok,
	}, nil
}

// loadRegistryConfig はリース関連の設定を読み込む。値の整合性はregistry.Newで検証する。
func loadRegistryConfig(getenv getenvFunc) (registry.Config, error) {
	def := registry.DefaultConfig()
	d := &durations{getenv: getenv}
	cfg := registry.Config{
		LeaseDuration:     d.get("LEASE_DURATION", def.LeaseDuration),
		HeartbeatInterval: d.get("HEARTBEAT_INTERVAL", def.HeartbeatInterval),
		SweepInterval:     d.get("SWEEP_INTERVAL", def.SweepInterval),
		EvictionGrace:     d.get("EVICTION_GRACE", def.EvictionGrace),
	}
	if d.err != nil {
		return registry.Config{}, d.err
	}
	return cfg, nil
}

func loadTokenConfig(getenv getenvFunc) (token.Config, error) {
	d := &durations{getenv: getenv}
	cfg := token.Config{
		Secret:     getenv.getEnvOr("JWT_SECRET", defaultJWTSecret),
		AccessTTL:  d.get("ACCESS_TOKEN_TTL", defaultAccessTTL),
		RefreshTTL: d.get("REFRESH_TOKEN_TTL", defaultRefreshTTL),
	}
	if d.err != nil {
		return token.Config{}, d.err
	}
	return cfg, nil
}
