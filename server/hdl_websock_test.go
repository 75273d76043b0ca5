package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServeWebSocketBadMethod(t *testing.T) {
	globals.apiKeySalt = []byte("0123456789abcdef0123456789abcdef")

	req := httptest.NewRequest(http.MethodPost, "/v0/channels", nil)
	req.Header.Set("X-Deskline-APIKey", makeAPIKey(globals.apiKeySalt, 1, false))
	rr := httptest.NewRecorder()
	serveWebSocket(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", rr.Code)
	}
	decodeCtrlResponse(t, rr)
}
