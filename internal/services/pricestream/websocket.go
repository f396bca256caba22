package pricestream

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DefaultBinanceStreamURL is the Binance spot raw stream endpoint.
const DefaultBinanceStreamURL = "wss://stream.binance.com:9443/ws"

// WebsocketTransport dials <BaseURL>/<symbol>@trade.
type WebsocketTransport struct {
	baseURL     string
	readTimeout time.Duration
	dialer      websocket.Dialer
}

// NewWebsocketTransport creates a transport. An empty proxyURL dials directly.
// A read timeout of zero waits for messages forever.
func NewWebsocketTransport(baseURL, proxyURL string, readTimeout time.Duration) (*WebsocketTransport, error) {
	if baseURL == "" {
		baseURL = DefaultBinanceStreamURL
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if proxyURL != "" {
		p, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid proxy url %q", proxyURL)
		}
		dialer.Proxy = http.ProxyURL(p)
	}

	return &WebsocketTransport{
		baseURL:     strings.TrimRight(baseURL, "/"),
		readTimeout: readTimeout,
		dialer:      dialer,
	}, nil
}

// StreamURL returns the trade stream address of the symbol.
func (t *WebsocketTransport) StreamURL(symbol string) string {
	return t.baseURL + "/" + strings.ToLower(symbol) + "@trade"
}

func (t *WebsocketTransport) Dial(ctx context.Context, symbol string) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.StreamURL(symbol), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn, readTimeout: t.readTimeout}, nil
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
