package intent

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/afredojala/agent-demo/internal/observability/metrics"
	"github.com/afredojala/agent-demo/pkg/logger"
)

// Conn 是广播器对客户端连接的最小依赖，*websocket.Conn 满足该接口。
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Delivery 汇总一次广播的投递结果。
type Delivery struct {
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

type client struct {
	id     string
	conn   Conn
	mu     sync.Mutex
	closed bool
}

// send 在客户端锁内写出消息；客户端一旦关闭就不再写入。
func (c *client) send(v any, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteJSON(v)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}

// Broadcaster 维护已连接的前端客户端，并把意图按发出顺序推送给每个客户端。
type Broadcaster struct {
	mu      sync.Mutex
	clients map[Conn]*client

	// emitMu 串行化广播，保证同一客户端看到的意图顺序与发出顺序一致。
	emitMu sync.Mutex

	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	log          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Broadcaster)

// WithWriteTimeout 设置单个客户端的写超时。
func WithWriteTimeout(timeout time.Duration) Option {
	return func(b *Broadcaster) {
		b.writeTimeout = timeout
	}
}

// WithAllowedOrigins 限制可建立连接的来源；为空时接受任意来源。
func WithAllowedOrigins(origins []string) Option {
	return func(b *Broadcaster) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		b.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
}

// WithLogger 替换广播器使用的日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBroadcaster 创建广播器。
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clients:      make(map[Conn]*client),
		writeTimeout: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.Named("broadcaster"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Add 注册一个连接并返回其客户端 ID；同一连接重复注册时返回已有 ID。
func (b *Broadcaster) Add(conn Conn) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.clients[conn]; ok {
		return existing.id
	}
	c := &client{id: uuid.NewString(), conn: conn}
	b.clients[conn] = c
	metrics.SetConnectedClients(len(b.clients))
	b.log.Info("client connected", slog.String("client_id", c.id), slog.Int("clients", len(b.clients)))
	return c.id
}

// Remove 注销并关闭连接。移除之后不会再向该连接写入。
func (b *Broadcaster) Remove(conn Conn) {
	b.mu.Lock()
	c, ok := b.clients[conn]
	if ok {
		delete(b.clients, conn)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	metrics.SetConnectedClients(n)
	b.log.Info("client disconnected", slog.String("client_id", c.id), slog.Int("clients", n))
}

// Len 返回当前连接数。
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) snapshot() []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		list = append(list, c)
	}
	return list
}

// Emit 把意图发送给所有当前连接的客户端。发送失败的客户端被关闭并移出集合，
// 不影响其它客户端；没有客户端时只记录日志。广播开始后才加入的客户端可能收不到本次意图。
func (b *Broadcaster) Emit(ctx context.Context, in Intent) (Delivery, error) {
	if err := in.Validate(); err != nil {
		return Delivery{}, err
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	targets := b.snapshot()
	if len(targets) == 0 {
		b.log.Warn("no clients connected to broadcast intent", slog.String("type", string(in.Type)))
		metrics.ObserveIntent(string(in.Type), 0, 0)
		return Delivery{}, nil
	}

	var result Delivery
	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := c.send(in, b.writeTimeout); err != nil {
			b.log.Warn("drop client after failed send",
				slog.String("client_id", c.id),
				slog.Any("error", err),
			)
			b.Remove(c.conn)
			result.Dropped++
			continue
		}
		result.Delivered++
	}

	metrics.ObserveIntent(string(in.Type), result.Delivered, result.Dropped)
	b.log.Info("intent broadcast",
		slog.String("type", string(in.Type)),
		slog.Int("delivered", result.Delivered),
		slog.Int("dropped", result.Dropped),
	)
	return result, nil
}

// ServeHTTP 将请求升级为 WebSocket 并注册为客户端，直到连接关闭。
// 客户端发来的消息只用于保活，内容被忽略。
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	b.Add(conn)
	defer b.Remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

// Close 断开全部客户端。
func (b *Broadcaster) Close() {
	for _, c := range b.snapshot() {
		b.Remove(c.conn)
	}
}
