package edgeconfig

import (
	"net/url"
	"path"
	"strings"
)

// ConnectionType distinguishes the hosted store from self-hosted compatible ones.
type ConnectionType string

const (
	ConnectionTypeVercel   ConnectionType = "vercel"
	ConnectionTypeExternal ConnectionType = "external"
)

const (
	vercelHost       = "edge-config.vercel.com"
	protocolVersion  = "1"
	edgeConfigScheme = "edge-config:"
)

// Connection holds everything needed to address one config store.
type Connection struct {
	BaseURL string
	ID      string
	Token   string
	Type    ConnectionType
	Version string
}

// ParseConnectionString parses the accepted connection string forms:
//
//	https://edge-config.vercel.com/<id>?token=<token>
//	https://<host>/<id>?token=<token>
//	https://<host>/?id=<id>&token=<token>
//	edge-config:id=<id>&token=<token>
//
// It reports false when the text has no id or no token.
func ParseConnectionString(text string) (Connection, bool) {
	if strings.HasPrefix(text, edgeConfigScheme) {
		return parseEdgeConfigScheme(strings.TrimPrefix(text, edgeConfigScheme))
	}
	return parseConnectionURL(text)
}

func parseEdgeConfigScheme(query string) (Connection, bool) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return Connection{}, false
	}
	id, token := values.Get("id"), values.Get("token")
	if id == "" || token == "" {
		return Connection{}, false
	}
	return Connection{
		BaseURL: "https://" + vercelHost + "/" + id,
		ID:      id,
		Token:   token,
		Type:    ConnectionTypeVercel,
		Version: protocolVersion,
	}, true
}

func parseConnectionURL(text string) (Connection, bool) {
	u, err := url.Parse(text)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return Connection{}, false
	}
	query := u.Query()
	token := query.Get("token")
	if token == "" {
		return Connection{}, false
	}

	if u.Host == vercelHost {
		id := strings.Trim(u.Path, "/")
		if id == "" || strings.Contains(id, "/") {
			return Connection{}, false
		}
		return Connection{
			BaseURL: "https://" + vercelHost + "/" + id,
			ID:      id,
			Token:   token,
			Type:    ConnectionTypeVercel,
			Version: protocolVersion,
		}, true
	}

	id := query.Get("id")
	if id == "" {
		id = path.Base(strings.TrimSuffix(u.Path, "/"))
		if id == "." || id == "/" {
			return Connection{}, false
		}
	}

	base := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	if base.Path == "" {
		base.Path = "/"
	}
	return Connection{
		BaseURL: base.String(),
		ID:      id,
		Token:   token,
		Type:    ConnectionTypeExternal,
		Version: protocolVersion,
	}, true
}

// endpoint joins the base URL with p and the protocol version query.
func (c Connection) endpoint(p string, keys ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(c.BaseURL, "/"))
	b.WriteString(p)
	b.WriteString("?version=")
	b.WriteString(c.Version)
	for _, k := range keys {
		b.WriteString("&key=")
		b.WriteString(url.QueryEscape(k))
	}
	return b.String()
}
