// Package signaling defines the documents exchanged through the shared
// directory and validates them at the directory boundary.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/pion/webrtc/v4"
)

var ErrMalformedDocument = errors.New("signaling: malformed document")

type Status string

const (
	StatusOffering     Status = "offering"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
	StatusAvailable    Status = "available"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOffering, StatusConnecting, StatusConnected, StatusDisconnected, StatusFailed, StatusAvailable:
		return true
	}
	return false
}

// Terminal reports whether a document in this status must not be negotiated on.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusFailed
}

// Field names as stored in the directory.
const (
	FieldStatus           = "status"
	FieldInitiatorName    = "initiatorName"
	FieldSharerDeviceName = "sharerDeviceName"
	FieldName             = "name"
	FieldOffer            = "offer"
	FieldAnswer           = "answer"
	FieldCreatedAt        = "createdAt"
	FieldGeneration       = "generation"
)

// SessionDocument is the validated form of both per-call session documents and
// long-lived receiver registrations. Registrations carry Name, sessions carry
// InitiatorName. Generation names the offer currently on the document; every
// new offer carries a fresh one.
type SessionDocument struct {
	ID               string
	Status           Status
	Generation       string
	InitiatorName    string
	SharerDeviceName string
	Name             string
	Offer            *webrtc.SessionDescription
	Answer           *webrtc.SessionDescription
	CreatedAt        time.Time
}

// HasPendingOffer reports whether a registration holds an offer nobody has answered yet.
func (d SessionDocument) HasPendingOffer() bool {
	return d.Offer != nil && d.Answer == nil && d.Status == StatusConnecting
}

// DisplayName returns the label of the offering side.
func (d SessionDocument) DisplayName() string {
	if d.InitiatorName != "" {
		return d.InitiatorName
	}
	if d.SharerDeviceName != "" {
		return d.SharerDeviceName
	}
	return d.Name
}

// Decode validates doc and converts it into a SessionDocument.
func Decode(doc directory.Document) (SessionDocument, error) {
	if !doc.Exists {
		return SessionDocument{}, fmt.Errorf("%w: %s does not exist", ErrMalformedDocument, doc.Path)
	}

	out := SessionDocument{ID: doc.ID}

	status, err := optionalString(doc.Data, FieldStatus)
	if err != nil {
		return SessionDocument{}, err
	}
	out.Status = Status(status)
	if !out.Status.Valid() {
		return SessionDocument{}, fmt.Errorf("%w: %s has status %q", ErrMalformedDocument, doc.Path, status)
	}

	if out.InitiatorName, err = optionalString(doc.Data, FieldInitiatorName); err != nil {
		return SessionDocument{}, err
	}
	if out.SharerDeviceName, err = optionalString(doc.Data, FieldSharerDeviceName); err != nil {
		return SessionDocument{}, err
	}
	if out.Name, err = optionalString(doc.Data, FieldName); err != nil {
		return SessionDocument{}, err
	}
	if out.Generation, err = optionalString(doc.Data, FieldGeneration); err != nil {
		return SessionDocument{}, err
	}

	if out.Offer, err = description(doc.Data, FieldOffer, webrtc.SDPTypeOffer); err != nil {
		return SessionDocument{}, err
	}
	if out.Answer, err = description(doc.Data, FieldAnswer, webrtc.SDPTypeAnswer); err != nil {
		return SessionDocument{}, err
	}

	if out.CreatedAt, err = timestamp(doc.Data, FieldCreatedAt); err != nil {
		return SessionDocument{}, err
	}

	return out, nil
}

func optionalString(data directory.Data, key string) (string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %s is %T, want string", ErrMalformedDocument, key, v)
	}
	return s, nil
}

func description(data directory.Data, key string, want webrtc.SDPType) (*webrtc.SessionDescription, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}

	var m map[string]any
	switch t := v.(type) {
	case directory.Data:
		m = t
	case map[string]any:
		m = t
	default:
		return nil, fmt.Errorf("%w: field %s is %T, want object", ErrMalformedDocument, key, v)
	}

	sdp, ok := m["sdp"].(string)
	if !ok || sdp == "" {
		return nil, fmt.Errorf("%w: field %s has no sdp", ErrMalformedDocument, key)
	}
	typ, _ := m["type"].(string)
	if webrtc.NewSDPType(typ) != want {
		return nil, fmt.Errorf("%w: field %s has type %q, want %q", ErrMalformedDocument, key, typ, want.String())
	}

	return &webrtc.SessionDescription{Type: want, SDP: sdp}, nil
}

func timestamp(data directory.Data, key string) (time.Time, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %s: %v", ErrMalformedDocument, key, err)
		}
		return ts, nil
	default:
		if directory.IsServerTimestamp(v) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: field %s is %T, want timestamp", ErrMalformedDocument, key, v)
	}
}

// DescriptionData is the stored form of a session descriptor.
func DescriptionData(sd webrtc.SessionDescription) directory.Data {
	return directory.Data{
		"sdp":  sd.SDP,
		"type": sd.Type.String(),
	}
}

// NewSession is the body of a freshly created per-call session document.
func NewSession(initiatorName, generation string, offer webrtc.SessionDescription) directory.Data {
	return directory.Data{
		FieldStatus:        string(StatusOffering),
		FieldInitiatorName: initiatorName,
		FieldGeneration:    generation,
		FieldOffer:         DescriptionData(offer),
		FieldCreatedAt:     directory.ServerTimestamp,
	}
}

// NewRegistration is the body of a receiver registration.
func NewRegistration(name string) directory.Data {
	return directory.Data{
		FieldName:      name,
		FieldStatus:    string(StatusAvailable),
		FieldCreatedAt: directory.ServerTimestamp,
	}
}

// ShareFields places an offer onto a receiver registration.
func ShareFields(sharerDeviceName, generation string, offer webrtc.SessionDescription) directory.Data {
	return directory.Data{
		FieldOffer:            DescriptionData(offer),
		FieldGeneration:       generation,
		FieldStatus:           string(StatusConnecting),
		FieldSharerDeviceName: sharerDeviceName,
	}
}

// AnswerFields completes a negotiation from the answering side.
func AnswerFields(answer webrtc.SessionDescription) directory.Data {
	return directory.Data{
		FieldAnswer: DescriptionData(answer),
		FieldStatus: string(StatusConnected),
	}
}

// ResetFields returns a registration to its reusable initial state.
func ResetFields() directory.Data {
	return directory.Data{
		FieldOffer:            nil,
		FieldAnswer:           nil,
		FieldSharerDeviceName: nil,
		FieldGeneration:       nil,
		FieldStatus:           string(StatusAvailable),
	}
}

// StatusFields sets only the status.
func StatusFields(s Status) directory.Data {
	return directory.Data{FieldStatus: string(s)}
}

// CandidateData is the stored form of a connectivity candidate. It keeps the
// JSON field names of webrtc.ICECandidateInit and is tagged with the
// generation of the offer it belongs to, when there is one.
func CandidateData(c webrtc.ICECandidateInit, generation string) (directory.Data, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out directory.Data
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if generation != "" {
		out[FieldGeneration] = generation
	}
	return out, nil
}

// CandidateGeneration returns the offer generation a candidate record was
// tagged with, or "" for untagged records.
func CandidateGeneration(doc directory.Document) string {
	g, _ := doc.Data[FieldGeneration].(string)
	return g
}

// DecodeCandidate validates a candidate record.
func DecodeCandidate(doc directory.Document) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := doc.Data.Decode(&c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: candidate %s: %v", ErrMalformedDocument, doc.Path, err)
	}
	if c.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: candidate %s is empty", ErrMalformedDocument, doc.Path)
	}
	return c, nil
}

// CandidateKey identifies a candidate by content so replays can be detected.
func CandidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate
	if c.SDPMid != nil {
		key += "|" + *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		key += "|" + strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return key
}
