// Package relay holds the JSON-RPC wire types spoken between the relay server
// and its directory clients.
package relay

import (
	"github.com/HMasataka/mirror/pkg/directory"
)

const (
	MethodCreate              = "create"
	MethodSet                 = "set"
	MethodUpdate              = "update"
	MethodDelete              = "delete"
	MethodGet                 = "get"
	MethodSubscribeDocument   = "subscribeDocument"
	MethodSubscribeCollection = "subscribeCollection"
	MethodUnsubscribe         = "unsubscribe"

	// Server to client notifications.
	NotifyDocument   = "document"
	NotifyCollection = "collection"
	NotifyError      = "subscriptionError"
)

// Error codes carried in jsonrpc2.Error.Code.
const (
	CodeInvalidPath      int64 = 4000
	CodePermissionDenied int64 = 4003
	CodeNotFound         int64 = 4004
	CodeUnknownSubscribe int64 = 4010
	CodeInternal         int64 = 5000
)

type Document struct {
	ID     string         `json:"id"`
	Path   string         `json:"path"`
	Exists bool           `json:"exists"`
	Data   directory.Data `json:"data,omitempty"`
}

func FromDocument(d directory.Document) Document {
	return Document{ID: d.ID, Path: d.Path, Exists: d.Exists, Data: d.Data}
}

func (d Document) ToDirectory() directory.Document {
	return directory.Document{ID: d.ID, Path: d.Path, Exists: d.Exists, Data: d.Data.RestoreSentinels()}
}

type Change struct {
	Kind     directory.ChangeKind `json:"kind"`
	Document Document             `json:"document"`
}

type CreateRequest struct {
	Collection string         `json:"collection"`
	Data       directory.Data `json:"data"`
}

type CreateResponse struct {
	ID string `json:"id"`
}

type WriteRequest struct {
	Path string         `json:"path"`
	Data directory.Data `json:"data"`
}

type PathRequest struct {
	Path string `json:"path"`
}

type GetResponse struct {
	Document Document `json:"document"`
}

// SubscribeRequest carries a client chosen ID so that notifications can be
// routed before the reply has been read.
type SubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Path           string `json:"path"`
}

type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type Empty struct{}

type DocumentNotification struct {
	SubscriptionID string   `json:"subscription_id"`
	Document       Document `json:"document"`
}

type CollectionNotification struct {
	SubscriptionID string   `json:"subscription_id"`
	Changes        []Change `json:"changes"`
}

type ErrorNotification struct {
	SubscriptionID string `json:"subscription_id"`
	Code           int64  `json:"code"`
	Message        string `json:"message"`
}
