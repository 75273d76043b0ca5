/******************************************************************************
 *
 *  Description :
 *
 *    REST endpoints: login, sending messages, loading a thread, and the
 *    agent's conversation list.
 *
 *****************************************************************************/

package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/logs"
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"
)

type loginReq struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type sendMessageReq struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// writeCtrl sends the control message as the HTTP response with the status
// code carried by the message itself.
func writeCtrl(wrt http.ResponseWriter, msg *ServerComMessage) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(msg.Ctrl.Code)
	json.NewEncoder(wrt).Encode(msg)
}

// authenticateRequest validates the bearer token of a REST request and loads
// the user's record. Same credential as the websocket handshake.
func authenticateRequest(req *http.Request) (*auth.Rec, *types.User, error) {
	return authenticateHandshake(req)
}

// serveLogin handles POST /v0/login: verifies a login:password pair and
// mints a session token.
func serveLogin(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if isValid, _ := checkAPIKey(getAPIKey(req)); !isValid {
		writeCtrl(wrt, ErrAPIKeyRequired(now))
		return
	}

	var creds loginReq
	if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
		writeCtrl(wrt, ErrMalformed("", now))
		return
	}

	secret := []byte(creds.Login + ":" + creds.Password)
	rec, _, err := store.Store.GetAuthHandler("basic").Authenticate(secret)
	if err != nil {
		logs.Warn.Println("login: failed:", err, req.RemoteAddr)
		writeCtrl(wrt, ErrAuthFailed("", now))
		return
	}

	token, expires, err := store.Store.GetAuthHandler("token").GenSecret(rec)
	if err != nil {
		logs.Err.Println("login: failed to make token:", err)
		writeCtrl(wrt, ErrUnknown("", now))
		return
	}

	statsInc("TotalLogins", 1)
	writeCtrl(wrt, NoErrParams("", now, map[string]interface{}{
		"user":    rec.Uid.UserId(),
		"token":   base64.URLEncoding.EncodeToString(token),
		"expires": expires,
	}))
}

// validateContent normalizes the message body and checks it against the
// allowed length in grapheme clusters. Returns the cleaned-up content.
func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", types.ErrMalformed
	}
	content = norm.NFC.String(content)
	if uniseg.GraphemeClusterCount(content) > globals.maxContentLength {
		return "", types.ErrMalformed
	}
	return content, nil
}

// serveSendMessage handles POST /v0/messages: persists a message and then
// fans the event out to the personal channels of both parties.
func serveSendMessage(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	_, user, err := authenticateRequest(req)
	if err != nil {
		writeCtrl(wrt, ErrAuthRequired("", now))
		return
	}

	var sendReq sendMessageReq
	if err = json.NewDecoder(req.Body).Decode(&sendReq); err != nil {
		writeCtrl(wrt, ErrMalformed("", now))
		return
	}

	content, err := validateContent(sendReq.Content)
	if err != nil {
		writeCtrl(wrt, ErrMalformed("", now))
		return
	}

	from := user.Uid()
	to := types.ParseUserId(sendReq.To)
	if err = canExchange(from, user.Role, to); err != nil {
		writeCtrl(wrt, storeErrToCtrl(err, "", now))
		return
	}

	msg := &types.Message{
		From:    from,
		To:      to,
		Content: content,
	}
	if _, err = store.Messages.Save(msg); err != nil {
		logs.Err.Println("sendMessage: failed to save:", err)
		writeCtrl(wrt, ErrUnknown("", now))
		return
	}

	// Broadcast strictly after the message is persisted.
	wire := toWireMessage(msg)
	data := &ServerComMessage{Data: &MsgServerData{Message: wire}}
	globals.hub.Publish(to, data)
	globals.hub.Publish(from, data)

	statsInc("TotalMessagesSent", 1)
	writeCtrl(wrt, NoErrCreated("", now, wire))
}

// serveThread handles GET /v0/messages/{user}: returns the full history with
// the given user and marks messages addressed to the caller as read.
func serveThread(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	_, user, err := authenticateRequest(req)
	if err != nil {
		writeCtrl(wrt, ErrAuthRequired("", now))
		return
	}

	peer := types.ParseUserId(req.PathValue("user"))
	if err = canExchange(user.Uid(), user.Role, peer); err != nil {
		writeCtrl(wrt, storeErrToCtrl(err, "", now))
		return
	}

	messages, marked, err := loadThread(user.Uid(), peer)
	if err != nil {
		writeCtrl(wrt, storeErrToCtrl(err, "", now))
		return
	}

	wire := make([]*MsgMessage, len(messages))
	for i := range messages {
		wire[i] = toWireMessage(&messages[i])
	}
	writeCtrl(wrt, NoErrParams("", now, map[string]interface{}{
		"messages": wire,
		"marked":   marked,
	}))
}

// serveConvoList handles GET /v0/conversations: the caller's assigned
// customers with last messages and unread counts. Only available to agents
// and elevated accounts.
func serveConvoList(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	_, user, err := authenticateRequest(req)
	if err != nil {
		writeCtrl(wrt, ErrAuthRequired("", now))
		return
	}

	if user.Role != types.RoleAgent && user.Role != types.RoleElevated {
		writeCtrl(wrt, ErrPermissionDenied("", now))
		return
	}

	list, err := conversationList(user.Uid())
	if err != nil {
		writeCtrl(wrt, storeErrToCtrl(err, "", now))
		return
	}

	writeCtrl(wrt, NoErrParams("", now, map[string]interface{}{
		"conversations": list,
	}))
}

