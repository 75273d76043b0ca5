/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections: authenticates the handshake, then
 *    runs the read and write pumps of the session.
 *
 *****************************************************************************/

package main

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/logs"
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 55 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

func (sess *Session) closeWS() {
	sess.ws.Close()
}

func (sess *Session) readLoop() {
	defer func() {
		sess.closeWS()
		sess.cleanUp()
		statsInc("LiveSessions", -1)
	}()

	sess.ws.SetReadLimit(globals.maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Read a ClientComMessage.
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			logs.Err.Println("ws: readLoop", sess.sid, err)
			return
		}
		statsInc("IncomingMessagesWebsockTotal", 1)
		sess.dispatchRaw(raw)
	}
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sess.closeWS()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				// Channel closed.
				return
			}
			if err := wsWrite(sess.ws, websocket.TextMessage, msg); err != nil {
				logs.Err.Println("ws: writeLoop", sess.sid, err)
				return
			}
			statsInc("OutgoingMessagesWebsockTotal", 1)

		case msg := <-sess.stop:
			// Shutdown requested, don't care if the message is delivered.
			if msg != nil {
				wsWrite(sess.ws, websocket.TextMessage, msg)
			}
			return

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				logs.Err.Println("ws: writeLoop ping", sess.sid, err)
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg interface{}) error {
	var bits []byte
	if msg != nil {
		bits = msg.([]byte)
	} else {
		bits = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, bits)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// authenticateHandshake validates the client's token supplied with the
// upgrade request and loads the user's record. Must pass before the
// connection is upgraded so failures can be reported as plain HTTP errors.
func authenticateHandshake(req *http.Request) (*auth.Rec, *types.User, error) {
	token := req.FormValue("auth")
	if token == "" {
		if bearer := req.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
			token = strings.TrimPrefix(bearer, "Bearer ")
		}
	}
	if token == "" {
		return nil, nil, types.ErrUnsupported
	}

	secret, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, nil, types.ErrMalformed
	}

	rec, _, err := store.Store.GetAuthHandler("token").Authenticate(secret)
	if err != nil {
		return nil, nil, err
	}

	user, err := store.Users.Get(rec.Uid)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || user.Role == types.RoleNone {
		return nil, nil, types.ErrUserNotFound
	}

	return rec, user, nil
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	if isValid, _ := checkAPIKey(getAPIKey(req)); !isValid {
		http.Error(wrt, "missing, invalid or expired API key", http.StatusForbidden)
		logs.Warn.Println("ws: missing, invalid or expired API key", req.RemoteAddr)
		return
	}

	if req.Method != http.MethodGet {
		writeCtrl(wrt, ErrOperationNotAllowed("", types.TimeNow()))
		logs.Warn.Println("ws: invalid HTTP method", req.Method, req.RemoteAddr)
		return
	}

	rec, user, err := authenticateHandshake(req)
	if err != nil {
		http.Error(wrt, "authentication required", http.StatusUnauthorized)
		logs.Warn.Println("ws: handshake auth failed:", err, req.RemoteAddr)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Warn.Println("ws: not a websocket handshake", req.RemoteAddr)
		return
	} else if err != nil {
		logs.Warn.Println("ws: failed to upgrade:", err, req.RemoteAddr)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws, "")
	sess.uid = rec.Uid
	sess.role = user.Role
	sess.authLvl = rec.AuthLevel
	sess.userAgent = req.UserAgent()
	sess.remoteAddr = req.RemoteAddr

	logs.Info.Println("ws: session started", sess.sid, sess.uid.UserId(), count)
	statsInc("LiveSessions", 1)
	statsInc("TotalSessions", 1)

	// The session must be a member of its own group and counted as online
	// before any messages are read, otherwise events addressed to the user
	// during the handshake window would be lost.
	globals.hub.Join(sess.uid, sess)
	globals.connRegistry.Register(sess.uid)

	go sess.writeLoop()
	sess.readLoop()

}
