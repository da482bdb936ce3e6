// Package redirecturl centraliza la validación de redirect/callback URLs
// contra el domain allow-list del tenant. La derivación de destinos y la
// validación exacta comparten las mismas reglas de normalización; cualquier
// divergencia entre ambas rompe el flow de autorización.
package redirecturl

import (
	"errors"
	"net/url"
	"strings"

	"github.com/dropDatabas3/multipass/internal/store/core"
)

// ErrNotAllowed: la URL no matchea ningún destino configurado del tenant.
var ErrNotAllowed = errors.New("redirecturl: url not in tenant allow-list")

// localhostFallback se habilita solo si el tenant permite localhost Y no
// tiene ningún dominio configurado.
const localhostFallback = "http://localhost"

// normalize reduce una URL a su forma canónica de comparación:
// scheme+host en minúsculas, sin trailing slash, sin query ni fragment.
func normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("redirecturl: missing scheme or host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// Destinations deriva los redirect URIs habilitados del tenant: cada dominio
// configurado + su handler path, normalizados. Con cero dominios y
// allow_localhost, el único destino es el fallback localhost.
func Destinations(t *core.Tenant) []string {
	if len(t.Domains) == 0 {
		if t.AllowLocalhost {
			return []string{localhostFallback}
		}
		return nil
	}
	out := make([]string, 0, len(t.Domains))
	for _, d := range t.Domains {
		base := strings.TrimRight(d.BaseURL, "/")
		path := "/" + strings.Trim(d.HandlerPath, "/")
		if path == "/" {
			path = ""
		}
		n, err := normalize(base + path)
		if err != nil {
			continue // dominio mal configurado no invalida el resto
		}
		out = append(out, n)
	}
	return out
}

// Validate chequea match EXACTO (post-normalización) de la URL contra los
// destinos del tenant. Para localhost-fallback alcanza con matchear host.
func Validate(t *core.Tenant, raw string) error {
	n, err := normalize(raw)
	if err != nil {
		return ErrNotAllowed
	}
	for _, dest := range Destinations(t) {
		if dest == localhostFallback {
			// El fallback acepta cualquier puerto/path de localhost.
			u, err := url.Parse(n)
			if err == nil && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
				return nil
			}
			continue
		}
		if n == dest {
			return nil
		}
	}
	return ErrNotAllowed
}
