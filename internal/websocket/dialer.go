package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"liveroom/pkg/interfaces"
)

const tracerName = "liveroom/internal/websocket"

// Dialer opens chat sockets. It implements interfaces.Dialer.
type Dialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	Options          Options

	tracer trace.Tracer
}

// NewDialer creates a dialer using the global tracer provider.
func NewDialer(handshakeTimeout time.Duration, opts Options) *Dialer {
	return &Dialer{
		HandshakeTimeout: handshakeTimeout,
		Options:          opts,
		tracer:           otel.Tracer(tracerName),
	}
}

// Dial performs the websocket handshake against rawURL.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (interfaces.Conn, error) {
	tracer := d.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "chat.dial", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("ws.url", rawURL))

	u, err := url.Parse(rawURL)
	if err != nil {
		span.SetStatus(codes.Error, "invalid url")
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		span.SetStatus(codes.Error, "unsupported scheme")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	return NewConnection(conn, d.Options), nil
}

// DeriveSocketURL turns a page origin into a websocket URL for path.
// http becomes ws and https becomes wss; ws and wss pass through.
func DeriveSocketURL(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
