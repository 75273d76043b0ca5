/******************************************************************************
 *
 *  Description :
 *
 *    Wire protocol structures.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/deskline/chat/server/store/types"
)

// Client to Server (C2S) messages.

// MsgClientWatch is a request to replace the connection's presence watch list.
type MsgClientWatch struct {
	// Message Id.
	Id string `json:"id,omitempty"`
	// Full replacement list of user IDs to watch, "usrXXX" format.
	// Malformed entries are silently dropped.
	Users []string `json:"users"`
}

// MsgClientTyping is a transient typing indicator addressed to another user.
type MsgClientTyping struct {
	// Target user ID, "usrXXX" format.
	To string `json:"to"`
	// True when typing started, false when stopped.
	On bool `json:"on"`
}

// ClientComMessage is a wrapper for client messages.
type ClientComMessage struct {
	Watch  *MsgClientWatch  `json:"watch,omitempty"`
	Typing *MsgClientTyping `json:"typing,omitempty"`

	// Message ID denormalized from the request.
	id string
	// Timestamp when the message was received by the server.
	timestamp time.Time
}

// Server to Client (S2C) messages.

// MsgUserPresence is presence state of a single user.
type MsgUserPresence struct {
	// User ID, "usrXXX" format.
	User string `json:"user"`
	// True if at least one of the user's connections is live.
	Online bool `json:"online"`
	// Time when the user's last connection was closed; null while online.
	LastSeenAt *time.Time `json:"last_seen,omitempty"`
}

// MsgServerCtrl is a server control message: an acknowledgement or an error.
type MsgServerCtrl struct {
	// Id of the incoming request this message is a response to, if any.
	Id string `json:"id,omitempty"`
	// Operation result: structured data in response to a successful request.
	Params interface{} `json:"params,omitempty"`

	// Response code, semantics of HTTP status codes.
	Code int `json:"code"`
	// Response text.
	Text string `json:"text,omitempty"`
	// Timestamp of the response generation.
	Timestamp time.Time `json:"ts"`
}

// MsgServerSnap is a presence snapshot: the direct reply to a watch request.
type MsgServerSnap struct {
	// Id of the watch request.
	Id string `json:"id,omitempty"`
	// Presence of the newly-watched users.
	Users []MsgUserPresence `json:"users"`
	// Timestamp of the snapshot.
	Timestamp time.Time `json:"ts"`
}

// MsgServerPres is a presence update broadcast to current watchers of a user.
type MsgServerPres struct {
	MsgUserPresence
	// Timestamp of the transition.
	Timestamp time.Time `json:"ts"`
}

// MsgServerTyping is a typing indicator relayed to the target user.
type MsgServerTyping struct {
	// Sender's user ID.
	From string `json:"from"`
	// True when typing started, false when stopped.
	On bool `json:"on"`
	// Timestamp of the indicator.
	Timestamp time.Time `json:"ts"`
}

// MsgMessage is a stored message as presented on the wire.
type MsgMessage struct {
	Id        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created"`
	ReadAt    *time.Time `json:"read,omitempty"`
}

// MsgServerData is a new-message event delivered to the personal channels of
// the sender and the recipient after the message was persisted.
type MsgServerData struct {
	Message *MsgMessage `json:"message"`
}

// ServerComMessage is a wrapper for server-side messages.
type ServerComMessage struct {
	Ctrl   *MsgServerCtrl   `json:"ctrl,omitempty"`
	Snap   *MsgServerSnap   `json:"snap,omitempty"`
	Pres   *MsgServerPres   `json:"pres,omitempty"`
	Typing *MsgServerTyping `json:"typing,omitempty"`
	Data   *MsgServerData   `json:"data,omitempty"`
}

// MsgConvo is a single entry of an agent's conversation list.
type MsgConvo struct {
	// Counterparty user ID.
	With string `json:"with"`
	// Counterparty's application-defined data, e.g. name.
	Public interface{} `json:"public,omitempty"`
	// The most recent message in the conversation, null if none.
	LastMsg *MsgMessage `json:"last_msg,omitempty"`
	// Count of messages addressed to the viewer not yet marked read.
	Unread int `json:"unread"`
}

// toWireMessage converts a stored message to its wire representation.
func toWireMessage(msg *types.Message) *MsgMessage {
	if msg == nil {
		return nil
	}
	return &MsgMessage{
		Id:        msg.Uid().String(),
		From:      msg.From.UserId(),
		To:        msg.To.UserId(),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		ReadAt:    msg.ReadAt,
	}
}

// Generators of server-side error and info messages {ctrl}.

// NoErr indicates successful completion (200).
func NoErr(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusOK, // 200
		Text:      "ok",
		Timestamp: ts}}
}

// NoErrParams indicates successful completion with additional parameters (200).
func NoErrParams(id string, ts time.Time, params interface{}) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusOK, // 200
		Text:      "ok",
		Params:    params,
		Timestamp: ts}}
}

// NoErrCreated indicates successful creation of an object (201).
func NoErrCreated(id string, ts time.Time, params interface{}) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusCreated, // 201
		Text:      "created",
		Params:    params,
		Timestamp: ts}}
}

// NoErrShutdown means the server is shutting down (205).
func NoErrShutdown(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusResetContent, // 205
		Text:      "server shutdown",
		Timestamp: ts}}
}

// 4xx Errors.

// ErrMalformed request malformed (400).
func ErrMalformed(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusBadRequest, // 400
		Text:      "malformed",
		Timestamp: ts}}
}

// ErrAuthRequired authentication required (401).
func ErrAuthRequired(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusUnauthorized, // 401
		Text:      "authentication required",
		Timestamp: ts}}
}

// ErrAuthFailed authentication failed (401).
func ErrAuthFailed(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusUnauthorized, // 401
		Text:      "authentication failed",
		Timestamp: ts}}
}

// ErrAPIKeyRequired  valid API key is required (403).
func ErrAPIKeyRequired(ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Code:      http.StatusForbidden, // 403
		Text:      "valid API key required",
		Timestamp: ts}}
}

// ErrPermissionDenied user is authenticated but operation is not permitted (403).
func ErrPermissionDenied(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusForbidden, // 403
		Text:      "permission denied",
		Timestamp: ts}}
}

// ErrUserNotFound addressed user is not found (404).
func ErrUserNotFound(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusNotFound, // 404
		Text:      "user not found",
		Timestamp: ts}}
}

// ErrOperationNotAllowed the operation is not allowed (405).
func ErrOperationNotAllowed(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusMethodNotAllowed, // 405
		Text:      "operation not allowed",
		Timestamp: ts}}
}

// ErrUnknown database or other server error (500).
func ErrUnknown(id string, ts time.Time) *ServerComMessage {
	return &ServerComMessage{Ctrl: &MsgServerCtrl{
		Id:        id,
		Code:      http.StatusInternalServerError, // 500
		Text:      "internal error",
		Timestamp: ts}}
}

// storeErrToCtrl converts a storage-level error to the matching {ctrl} reply.
// The three denial reasons of a message send are kept distinct: malformed
// input, unknown recipient, relationship failure.
func storeErrToCtrl(err error, id string, ts time.Time) *ServerComMessage {
	switch err {
	case types.ErrMalformed:
		return ErrMalformed(id, ts)
	case types.ErrUserNotFound, types.ErrNotFound:
		return ErrUserNotFound(id, ts)
	case types.ErrPermissionDenied:
		return ErrPermissionDenied(id, ts)
	default:
		return ErrUnknown(id, ts)
	}
}
