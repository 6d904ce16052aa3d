// Package ginadapter bridges a gin application to the engine's host
// adapter interfaces: request access for renders, dev asset proxying, and
// the reload websocket.
package ginadapter

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hydrastack/go-hydra/hostadapter"
)

// Request adapts one gin request to hostadapter.Request.
type Request struct {
	ctx *gin.Context
}

// Wrap returns the hostadapter view of a gin request.
func Wrap(ctx *gin.Context) Request {
	return Request{ctx: ctx}
}

func (r Request) Path() string {
	return r.ctx.Request.URL.Path
}

func (r Request) Query() string {
	return r.ctx.Request.URL.RawQuery
}

func (r Request) Method() string {
	return r.ctx.Request.Method
}

func (r Request) Header(name string) string {
	return r.ctx.GetHeader(name)
}

func (r Request) Headers() map[string]string {
	headers := make(map[string]string, len(r.ctx.Request.Header))
	for name, values := range r.ctx.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return headers
}

func (r Request) Cookie(name string) string {
	value, err := r.ctx.Cookie(name)
	if err != nil {
		return ""
	}
	return value
}

func (r Request) Cookies() map[string]string {
	cookies := r.ctx.Request.Cookies()
	out := make(map[string]string, len(cookies))
	for _, cookie := range cookies {
		out[cookie.Name] = cookie.Value
	}
	return out
}

func (r Request) Parameter(name string) string {
	return r.ctx.Query(name)
}

// Host adapts a gin router to hostadapter.Host. Proxy prefixes share one
// middleware so wildcard routes never collide with the application's own.
type Host struct {
	router *gin.Engine

	mu       sync.Mutex
	proxies  []proxyRule
	upgrader websocket.Upgrader
	once     sync.Once
}

type proxyRule struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// NewHost wraps a gin engine.
func NewHost(router *gin.Engine) *Host {
	return &Host{
		router: router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoute installs a GET handler at an exact path.
func (h *Host) RegisterRoute(path string, handler func(hostadapter.Request) (int, string, []byte)) {
	h.router.GET(path, func(ctx *gin.Context) {
		status, contentType, body := handler(Wrap(ctx))
		ctx.Data(status, contentType, body)
	})
}

// RegisterProxyPrefix forwards matching requests to origin. Matching is by
// exact path, or by path prefix when the prefix ends with '/'.
func (h *Host) RegisterProxyPrefix(prefix, origin string, timeout time.Duration) {
	target, err := url.Parse(origin)
	if err != nil {
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{ResponseHeaderTimeout: timeout}
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
		w.WriteHeader(http.StatusBadGateway)
	}

	h.mu.Lock()
	h.proxies = append(h.proxies, proxyRule{prefix: prefix, proxy: proxy})
	h.mu.Unlock()

	h.once.Do(func() {
		h.router.Use(h.proxyMiddleware)
	})
}

func (h *Host) proxyMiddleware(ctx *gin.Context) {
	path := ctx.Request.URL.Path

	h.mu.Lock()
	rules := h.proxies
	h.mu.Unlock()

	for _, rule := range rules {
		matched := path == rule.prefix ||
			(strings.HasSuffix(rule.prefix, "/") && strings.HasPrefix(path, rule.prefix))
		if !matched {
			continue
		}
		rule.proxy.ServeHTTP(ctx.Writer, ctx.Request)
		ctx.Abort()
		return
	}
	ctx.Next()
}

// RegisterWebsocket installs an upgrade endpoint that pumps hub messages to
// the browser until either side goes away.
func (h *Host) RegisterWebsocket(path string, onConnect func(send chan<- []byte, done <-chan struct{})) {
	h.router.GET(path, func(ctx *gin.Context) {
		conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			return
		}

		send := make(chan []byte, 8)
		done := make(chan struct{})
		onConnect(send, done)

		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		go func() {
			defer conn.Close()
			for {
				select {
				case message := <-send:
					if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
	})
}
