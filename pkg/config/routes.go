package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v2"
)

// RoutesFile はROUTES_FILEで指定するYAMLファイルの構造。
//
//	forward_timeout: 5s
//	public_paths: ["/login", "/health"]
//	routes:
//	  - prefix: /members
//	    service: member-service
//	  - prefix: /public
//	    service: board-service
//	    requires_auth: false
//	    strip_prefix: true
type RoutesFile struct {
	ForwardTimeout Duration     `yaml:"forward_timeout"`
	PublicPaths    []string     `yaml:"public_paths"`
	Routes         []routeEntry `yaml:"routes"`
}

type routeEntry struct {
	Prefix       string `yaml:"prefix"`
	Service      string `yaml:"service"`
	RequiresAuth *bool  `yaml:"requires_auth"`
	StripPrefix  bool   `yaml:"strip_prefix"`
}

// LoadRoutesFile はYAMLのルート定義ファイルを読み込む。
func LoadRoutesFile(path string) (RoutesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RoutesFile{}, fmt.Errorf("ルート定義ファイルの読み込みに失敗: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes はYAMLのルート定義を解釈する。requires_authを省略したルートは認証必須とする。
func ParseRoutes(data []byte) (RoutesFile, error) {
	var file RoutesFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return RoutesFile{}, fmt.Errorf("ルート定義の解析に失敗: %w", err)
	}
	for _, r := range file.routes() {
		if err := r.validate(); err != nil {
			return RoutesFile{}, err
		}
	}
	return file, nil
}

// routes はファイルのルート定義をRouteに変換する。
func (f RoutesFile) routes() []Route {
	routes := make([]Route, 0, len(f.Routes))
	for _, e := range f.Routes {
		requiresAuth := true
		if e.RequiresAuth != nil {
			requiresAuth = *e.RequiresAuth
		}
		routes = append(routes, Route{
			Prefix:       e.Prefix,
			ServiceName:  e.Service,
			RequiresAuth: requiresAuth,
			StripPrefix:  e.StripPrefix,
		})
	}
	return routes
}

// apply はファイルに記載された項目でGatewayの設定を上書きする。
func (f RoutesFile) apply(cfg *Gateway) {
	if len(f.Routes) > 0 {
		cfg.Routes = f.routes()
	}
	if len(f.PublicPaths) > 0 {
		cfg.PublicPaths = f.PublicPaths
	}
	if d := time.Duration(f.ForwardTimeout); d > 0 {
		cfg.ForwardTimeout = d
	}
}
