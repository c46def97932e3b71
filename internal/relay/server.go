// Package relay serves a Directory to remote peers over WebSocket JSON-RPC.
package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	payload "github.com/HMasataka/mirror/payload/relay"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
)

var errInvalidParams = errors.New("invalid params")

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheckOrigin overrides the WebSocket origin check.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

// WithToken requires clients to present "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

type Server struct {
	dir      directory.Directory
	upgrader websocket.Upgrader
	logger   *slog.Logger
	token    string

	wg sync.WaitGroup
}

func NewServer(dir directory.Directory, opts ...Option) *Server {
	s := &Server{
		dir:    dir,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler routes /ws to the relay and /health to a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	want := "Bearer " + s.token
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(want)) == 1
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("rejected unauthorized client", slog.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", slog.Any("error", err))
		return
	}

	c := newConnection(s, r.RemoteAddr)
	rpc := jsonrpc2.NewConn(c.ctx, wsjsonrpc2.NewObjectStream(conn), c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-rpc.DisconnectNotify()
		c.close()
	}()
}

// Wait blocks until every connection has been cleaned up.
func (s *Server) Wait() {
	s.wg.Wait()
}

// connection is the server side of one client. Requests are handled in
// arrival order on a single worker so the read loop never blocks on the
// directory.
type connection struct {
	server *Server
	logger *slog.Logger
	pool   *workerpool.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]directory.Unsubscribe
}

func newConnection(s *Server, remote string) *connection {
	ctx, cancel := context.WithCancel(context.Background())

	c := &connection{
		server: s,
		logger: s.logger.With(slog.String("remote", remote)),
		pool:   workerpool.New(1),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]directory.Unsubscribe),
	}
	c.logger.Debug("client connected")

	return c
}

func (c *connection) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	c.pool.Submit(func() {
		c.handle(ctx, conn, req)
	})
}

func (c *connection) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	result, err := c.dispatch(ctx, conn, req)

	if req.Notif {
		if err != nil {
			c.logger.Debug("notification failed", slog.String("method", req.Method), slog.Any("error", err))
		}
		return
	}

	if err != nil {
		if replyErr := conn.ReplyWithError(ctx, req.ID, toRPCError(err)); replyErr != nil {
			c.logger.Error("failed to send error reply", slog.String("method", req.Method), slog.Any("error", replyErr))
		}
		return
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		c.logger.Error("failed to send reply", slog.String("method", req.Method), slog.Any("error", err))
	}
}

func toRPCError(err error) *jsonrpc2.Error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &jsonrpc2.Error{Code: payload.ErrorCode(err), Message: err.Error()}
}

func decode(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: errInvalidParams.Error()}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func (c *connection) dispatch(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	dir := c.server.dir

	switch req.Method {
	case payload.MethodCreate:
		var args payload.CreateRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		id, err := dir.Create(ctx, args.Collection, args.Data.RestoreSentinels())
		if err != nil {
			return nil, err
		}
		return payload.CreateResponse{ID: id}, nil

	case payload.MethodSet:
		var args payload.WriteRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		return payload.Empty{}, dir.Set(ctx, args.Path, args.Data.RestoreSentinels())

	case payload.MethodUpdate:
		var args payload.WriteRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		return payload.Empty{}, dir.Update(ctx, args.Path, args.Data.RestoreSentinels())

	case payload.MethodDelete:
		var args payload.PathRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		return payload.Empty{}, dir.Delete(ctx, args.Path)

	case payload.MethodGet:
		var args payload.PathRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		doc, err := dir.Get(ctx, args.Path)
		if err != nil {
			return nil, err
		}
		return payload.GetResponse{Document: payload.FromDocument(doc)}, nil

	case payload.MethodSubscribeDocument:
		var args payload.SubscribeRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		return payload.Empty{}, c.subscribeDocument(conn, args)

	case payload.MethodSubscribeCollection:
		var args payload.SubscribeRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		return payload.Empty{}, c.subscribeCollection(conn, args)

	case payload.MethodUnsubscribe:
		var args payload.UnsubscribeRequest
		if err := decode(req, &args); err != nil {
			return nil, err
		}
		return payload.Empty{}, c.unsubscribe(args.SubscriptionID)

	default:
		c.logger.Warn("unknown method", slog.String("method", req.Method))
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (c *connection) register(id string, unsubscribe directory.Unsubscribe) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs == nil {
		unsubscribe()
		return directory.ErrClosed
	}
	if id == "" {
		unsubscribe()
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing subscription_id"}
	}
	if _, ok := c.subs[id]; ok {
		unsubscribe()
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "duplicate subscription_id"}
	}
	c.subs[id] = unsubscribe

	return nil
}

func (c *connection) subscribeDocument(conn *jsonrpc2.Conn, args payload.SubscribeRequest) error {
	ch, unsubscribe, err := c.server.dir.SubscribeDocument(c.ctx, args.Path)
	if err != nil {
		return err
	}
	if err := c.register(args.SubscriptionID, unsubscribe); err != nil {
		return err
	}

	go func() {
		for ev := range ch {
			if ev.Err != nil {
				c.notifyError(conn, args.SubscriptionID, ev.Err)
				return
			}
			n := payload.DocumentNotification{SubscriptionID: args.SubscriptionID, Document: payload.FromDocument(ev.Doc)}
			if err := conn.Notify(c.ctx, payload.NotifyDocument, n); err != nil {
				c.logger.Debug("failed to forward document", slog.String("subscription_id", args.SubscriptionID), slog.Any("error", err))
				return
			}
		}
	}()

	return nil
}

func (c *connection) subscribeCollection(conn *jsonrpc2.Conn, args payload.SubscribeRequest) error {
	ch, unsubscribe, err := c.server.dir.SubscribeCollection(c.ctx, args.Path)
	if err != nil {
		return err
	}
	if err := c.register(args.SubscriptionID, unsubscribe); err != nil {
		return err
	}

	go func() {
		for ev := range ch {
			if ev.Err != nil {
				c.notifyError(conn, args.SubscriptionID, ev.Err)
				return
			}
			changes := make([]payload.Change, 0, len(ev.Changes))
			for _, change := range ev.Changes {
				changes = append(changes, payload.Change{Kind: change.Kind, Document: payload.FromDocument(change.Doc)})
			}
			n := payload.CollectionNotification{SubscriptionID: args.SubscriptionID, Changes: changes}
			if err := conn.Notify(c.ctx, payload.NotifyCollection, n); err != nil {
				c.logger.Debug("failed to forward changes", slog.String("subscription_id", args.SubscriptionID), slog.Any("error", err))
				return
			}
		}
	}()

	return nil
}

func (c *connection) notifyError(conn *jsonrpc2.Conn, id string, err error) {
	n := payload.ErrorNotification{SubscriptionID: id, Code: payload.ErrorCode(err), Message: err.Error()}
	if err := conn.Notify(c.ctx, payload.NotifyError, n); err != nil {
		c.logger.Debug("failed to forward subscription error", slog.String("subscription_id", id), slog.Any("error", err))
	}
}

func (c *connection) unsubscribe(id string) error {
	c.mu.Lock()
	unsubscribe, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if !ok {
		return payload.ErrUnknownSubscription
	}
	unsubscribe()

	return nil
}

func (c *connection) close() {
	c.cancel()
	c.pool.StopWait()

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}

	c.logger.Debug("client disconnected", slog.Int("subscriptions", len(subs)))
}
