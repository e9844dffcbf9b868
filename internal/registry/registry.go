// Package registry は論理サービス名から転送先のベースURLを解決する。
//
// Registry は起動時に一度だけ構築され、以後は変更されない。
// 複数のハンドラから同時に参照しても安全。
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrNotFound は未登録のサービス名を表す。
var ErrNotFound = errors.New("サービスが登録されていません")

// Registry はサービス名とベースURLの不変な対応表。
type Registry struct {
	// services はサービス名をキーとした正規化済みベースURL。
	services map[string]string
}

// New は対応表を検証・正規化してRegistryを生成する。
// ベースURLはhttpまたはhttpsの絶対URLでなければならず、末尾のスラッシュは除去する。
func New(services map[string]string) (*Registry, error) {
	if len(services) == 0 {
		return nil, errors.New("サービスが1つも指定されていません")
	}

	copied := make(map[string]string, len(services))
	for name, raw := range services {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("サービス名が空です")
		}
		base, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("サービス %s のURLが不正です: %w", name, err)
		}
		copied[name] = base
	}
	return &Registry{services: copied}, nil
}

// Resolve はサービス名に対応するベースURLを返す。
func (r *Registry) Resolve(name string) (string, error) {
	base, ok := r.services[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return base, nil
}

// Names は登録済みのサービス名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("スキームはhttpまたはhttpsのみ対応しています: %q", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ホストが指定されていません: %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}
