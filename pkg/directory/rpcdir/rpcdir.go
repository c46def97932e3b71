// Package rpcdir is a Directory backed by the mirror relay over a WebSocket
// JSON-RPC connection.
package rpcdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/HMasataka/mirror/payload/relay"
	"github.com/HMasataka/mirror/pkg/directory"
	ws "github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
)

const unsubscribeTimeout = 5 * time.Second

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeader adds headers to the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) {
		c.header = h
	}
}

type docSub struct {
	feed *directory.Feed[directory.DocumentEvent]
}

type colSub struct {
	feed *directory.Feed[directory.CollectionEvent]
}

// Client implements directory.Directory against a relay server.
type Client struct {
	conn   *jsonrpc2.Conn
	logger *slog.Logger
	header http.Header

	mu      sync.Mutex
	closed  bool
	docSubs map[string]*docSub
	colSubs map[string]*colSub
}

var _ directory.Directory = (*Client)(nil)

// Dial connects to the relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:  slog.Default(),
		docSubs: make(map[string]*docSub),
		colSubs: make(map[string]*colSub),
	}

	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, c.header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	c.conn = jsonrpc2.NewConn(context.Background(), wsjsonrpc2.NewObjectStream(conn), c)

	go func() {
		<-c.conn.DisconnectNotify()
		c.disconnected()
	}()

	c.logger.Debug("relay connected", slog.String("url", url))

	return c, nil
}

// Handle receives subscription notifications. Requests from the server are
// not part of the protocol and are ignored.
func (c *Client) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif || req.Params == nil {
		return
	}

	switch req.Method {
	case relay.NotifyDocument:
		var n relay.DocumentNotification
		if err := json.Unmarshal(*req.Params, &n); err != nil {
			c.logger.Warn("malformed document notification", slog.Any("error", err))
			return
		}
		if sub := c.docSub(n.SubscriptionID); sub != nil {
			sub.feed.Push(directory.DocumentEvent{Doc: n.Document.ToDirectory()})
		}

	case relay.NotifyCollection:
		var n relay.CollectionNotification
		if err := json.Unmarshal(*req.Params, &n); err != nil {
			c.logger.Warn("malformed collection notification", slog.Any("error", err))
			return
		}
		if sub := c.colSub(n.SubscriptionID); sub != nil {
			changes := make([]directory.Change, 0, len(n.Changes))
			for _, ch := range n.Changes {
				changes = append(changes, directory.Change{Kind: ch.Kind, Doc: ch.Document.ToDirectory()})
			}
			sub.feed.Push(directory.CollectionEvent{Changes: changes})
		}

	case relay.NotifyError:
		var n relay.ErrorNotification
		if err := json.Unmarshal(*req.Params, &n); err != nil {
			c.logger.Warn("malformed error notification", slog.Any("error", err))
			return
		}
		c.failSubscription(n.SubscriptionID, relay.ErrorFromCode(n.Code, n.Message))

	default:
		c.logger.Debug("unknown notification", slog.String("method", req.Method))
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if result == nil {
		result = &relay.Empty{}
	}

	err := c.conn.Call(ctx, method, params, result)

	var rpcErr *jsonrpc2.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rpcErr):
		return relay.ErrorFromCode(rpcErr.Code, rpcErr.Message)
	case errors.Is(err, jsonrpc2.ErrClosed):
		return directory.ErrClosed
	default:
		return err
	}
}

func (c *Client) Create(ctx context.Context, collection string, data directory.Data) (string, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return "", err
	}

	var resp relay.CreateResponse
	if err := c.call(ctx, relay.MethodCreate, relay.CreateRequest{Collection: collection, Data: data}, &resp); err != nil {
		return "", err
	}

	return resp.ID, nil
}

func (c *Client) Set(ctx context.Context, docPath string, data directory.Data) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}
	return c.call(ctx, relay.MethodSet, relay.WriteRequest{Path: docPath, Data: data}, nil)
}

func (c *Client) Update(ctx context.Context, docPath string, data directory.Data) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}
	return c.call(ctx, relay.MethodUpdate, relay.WriteRequest{Path: docPath, Data: data}, nil)
}

func (c *Client) Delete(ctx context.Context, docPath string) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}
	return c.call(ctx, relay.MethodDelete, relay.PathRequest{Path: docPath}, nil)
}

func (c *Client) Get(ctx context.Context, docPath string) (directory.Document, error) {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return directory.Document{}, err
	}

	var resp relay.GetResponse
	if err := c.call(ctx, relay.MethodGet, relay.PathRequest{Path: docPath}, &resp); err != nil {
		return directory.Document{}, err
	}

	return resp.Document.ToDirectory(), nil
}

func (c *Client) SubscribeDocument(ctx context.Context, docPath string) (<-chan directory.DocumentEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return nil, nil, err
	}

	id := xid.New().String()
	sub := &docSub{feed: directory.NewFeed[directory.DocumentEvent]()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, directory.ErrClosed
	}
	c.docSubs[id] = sub
	c.mu.Unlock()

	unsubscribe, err := c.subscribe(ctx, relay.MethodSubscribeDocument, id, docPath, sub.feed.Close)
	if err != nil {
		return nil, nil, err
	}

	return sub.feed.C(), unsubscribe, nil
}

func (c *Client) SubscribeCollection(ctx context.Context, collection string) (<-chan directory.CollectionEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return nil, nil, err
	}

	id := xid.New().String()
	sub := &colSub{feed: directory.NewFeed[directory.CollectionEvent]()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, directory.ErrClosed
	}
	c.colSubs[id] = sub
	c.mu.Unlock()

	unsubscribe, err := c.subscribe(ctx, relay.MethodSubscribeCollection, id, collection, sub.feed.Close)
	if err != nil {
		return nil, nil, err
	}

	return sub.feed.C(), unsubscribe, nil
}

// subscribe registers id on the server. The feed is registered locally
// beforehand, so the first snapshot cannot overtake the reply.
func (c *Client) subscribe(ctx context.Context, method, id, p string, closeFeed func()) (directory.Unsubscribe, error) {
	if err := c.call(ctx, method, relay.SubscribeRequest{SubscriptionID: id, Path: p}, nil); err != nil {
		c.forget(id)
		closeFeed()
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.forget(id)
			closeFeed()

			ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			defer cancel()
			if err := c.conn.Notify(ctx, relay.MethodUnsubscribe, relay.UnsubscribeRequest{SubscriptionID: id}); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
				c.logger.Debug("failed to unsubscribe", slog.String("subscription_id", id), slog.Any("error", err))
			}
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)

	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (c *Client) docSub(id string) *docSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docSubs[id]
}

func (c *Client) colSub(id string) *colSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.colSubs[id]
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docSubs, id)
	delete(c.colSubs, id)
}

// failSubscription delivers err as the final event of subscription id.
func (c *Client) failSubscription(id string, err error) {
	c.mu.Lock()
	doc := c.docSubs[id]
	col := c.colSubs[id]
	delete(c.docSubs, id)
	delete(c.colSubs, id)
	c.mu.Unlock()

	if doc != nil {
		doc.feed.Push(directory.DocumentEvent{Err: err})
		doc.feed.Finish()
	}
	if col != nil {
		col.feed.Push(directory.CollectionEvent{Err: err})
		col.feed.Finish()
	}
}

func (c *Client) disconnected() {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	ids := make([]string, 0, len(c.docSubs)+len(c.colSubs))
	for id := range c.docSubs {
		ids = append(ids, id)
	}
	for id := range c.colSubs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	if !wasClosed {
		c.logger.Warn("relay connection lost")
	}

	for _, id := range ids {
		c.failSubscription(id, directory.ErrClosed)
	}
}

// Close ends the connection. Open subscriptions receive directory.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return nil
	}
	return err
}
