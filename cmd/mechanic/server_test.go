package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func setupTestServer(t *testing.T) (*httptest.Server, *sessionManager) {
	t.Helper()
	a := newTestApp(t)
	sessions := newSessionManager(a, 15*time.Minute)
	srv := httptest.NewServer(newServer(a, sessions, 10*time.Second))
	t.Cleanup(func() {
		srv.Close()
		sessions.closeAll()
	})
	return srv, sessions
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, url, data, err)
		}
	}
	return resp.StatusCode
}

func createSession(t *testing.T, srv *httptest.Server, fn string) createSessionResponse {
	t.Helper()
	var resp createSessionResponse
	code := doJSON(t, http.MethodPost, srv.URL+"/sessions", `{"function":"`+fn+`"}`, &resp)
	if code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}

func TestFunctionsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)
	var infos []functionInfo
	if code := doJSON(t, http.MethodGet, srv.URL+"/functions", "", &infos); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(infos) == 0 {
		t.Error("expected functions")
	}
}

func TestCreateSessionSelectsAndPreviews(t *testing.T) {
	srv, sessions := setupTestServer(t)
	resp := createSession(t, srv, "circles")

	if resp.SessionID == "" {
		t.Fatal("expected non-empty session ID")
	}
	if sessions.count() != 1 {
		t.Errorf("expected 1 session, got %d", sessions.count())
	}
	if !resp.Ready || resp.Function != "circles" {
		t.Errorf("unexpected state %+v", resp.sessionState)
	}
	if resp.Last == nil {
		t.Fatal("readiness should trigger an automatic preview")
	}
	if _, ok := resp.Last.Seed(); !ok {
		t.Error("automatic preview should carry a seed")
	}
}

func TestSessionWorkflow(t *testing.T) {
	srv, _ := setupTestServer(t)
	id := createSession(t, srv, "circles").SessionID
	base := srv.URL + "/sessions/" + id

	var st sessionState
	if code := doJSON(t, http.MethodPost, base+"/params", `{"name":"count","value":5}`, &st); code != http.StatusOK {
		t.Fatalf("params: status %d", code)
	}
	if st.Values["count"] != 5.0 {
		t.Errorf("count = %v", st.Values["count"])
	}

	var prev runResponse
	if code := doJSON(t, http.MethodPost, base+"/preview", "", &prev); code != http.StatusOK {
		t.Fatalf("preview: status %d", code)
	}
	seed, ok := prev.Handle.Seed()
	if !ok || prev.Width != 400 {
		t.Errorf("preview = %+v", prev)
	}

	var exp runResponse
	if code := doJSON(t, http.MethodPost, base+"/export", "", &exp); code != http.StatusOK {
		t.Fatalf("export: status %d", code)
	}
	if exp.Handle.Location == "" {
		t.Error("export should report a location")
	}
	if s, _ := exp.Handle.Seed(); s != seed {
		t.Errorf("export seed %q should match preview seed %q", s, seed)
	}

	resp, err := http.Get(base + "/frame")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("frame content type %q", resp.Header.Get("Content-Type"))
	}

	if code := doJSON(t, http.MethodPost, base+"/toggles", `{"auto_refresh":false}`, &st); code != http.StatusOK || st.AutoRefresh {
		t.Errorf("toggles: status %d, auto_refresh %v", code, st.AutoRefresh)
	}
}

func TestSessionErrors(t *testing.T) {
	srv, _ := setupTestServer(t)
	id := createSession(t, srv, "circles").SessionID
	base := srv.URL + "/sessions/" + id

	var body map[string]string
	if code := doJSON(t, http.MethodPost, base+"/params", `{"name":"nope","value":1}`, &body); code != http.StatusBadRequest {
		t.Errorf("unknown param: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, base+"/params", `{"name":"preset","value":"nope"}`, &body); code != http.StatusBadRequest {
		t.Errorf("unknown preset: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, base+"/select", `{"function":"missing"}`, &body); code != http.StatusNotFound {
		t.Errorf("unknown function: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/sessions/unknown/preview", "", nil); code != http.StatusNotFound {
		t.Errorf("unknown session: status %d", code)
	}
}

func TestSessionWithoutFunctionIsNotReady(t *testing.T) {
	srv, _ := setupTestServer(t)
	id := createSession(t, srv, "").SessionID

	var body map[string]string
	code := doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/preview", "", &body)
	if code != http.StatusConflict {
		t.Errorf("expected 409 without a function, got %d", code)
	}
}

func TestSessionClose(t *testing.T) {
	srv, sessions := setupTestServer(t)
	id := createSession(t, srv, "grid").SessionID

	if code := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, "", nil); code != http.StatusNoContent {
		t.Errorf("delete: status %d", code)
	}
	if _, ok := sessions.get(id); ok {
		t.Error("session should not exist after close")
	}
	if code := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+id, "", nil); code != http.StatusNotFound {
		t.Errorf("second delete: status %d", code)
	}
}

func TestMultipleSessionsAreIndependent(t *testing.T) {
	srv, _ := setupTestServer(t)
	a := createSession(t, srv, "circles")
	b := createSession(t, srv, "rings")

	if a.SessionID == b.SessionID {
		t.Fatal("session IDs should be unique")
	}
	if a.Engine != "canvas" || b.Engine != "vector" {
		t.Errorf("engines = %q, %q", a.Engine, b.Engine)
	}

	var st sessionState
	doJSON(t, http.MethodGet, srv.URL+"/sessions/"+a.SessionID, "", &st)
	if st.Function != "circles" {
		t.Errorf("session a switched to %q", st.Function)
	}
}

func TestSessionExpiry(t *testing.T) {
	a := newTestApp(t)
	sessions := newSessionManager(a, time.Minute)
	defer sessions.closeAll()

	id, _, err := sessions.create()
	if err != nil {
		t.Fatal(err)
	}
	if n := sessions.expire(time.Now()); n != 0 {
		t.Errorf("fresh session expired: %d", n)
	}
	if n := sessions.expire(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("expected 1 expired session, got %d", n)
	}
	if _, ok := sessions.get(id); ok {
		t.Error("expired session still present")
	}
}
