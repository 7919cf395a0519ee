package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/hook"
	"github.com/kasuganosora/gamewiki/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServeSSE_StreamsChanges(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, ps := testutil.SetupTestCache(t)
	h := NewHandler(ps, zap.NewNop())

	r := gin.New()
	r.GET("/api/events", h.ServeSSE)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?resource=items", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream")
			return ""
		}
	}
	require.Equal(t, "event: connected", next())
	next() // data
	next() // blank

	pub := h.PublishHook()
	require.NoError(t, pub(ctx, hook.AfterEntitySave, &hook.EntityEvent{Resource: "runes", ID: "R1"}))
	require.NoError(t, pub(ctx, hook.AfterEntityDelete, &hook.EntityEvent{Resource: "items", ID: "I9"}))

	require.Equal(t, "event: entity", next(), "runes event must be filtered out")
	data := strings.TrimPrefix(next(), "data: ")
	var ch Change
	require.NoError(t, json.Unmarshal([]byte(data), &ch))
	assert.Equal(t, ChangeDeleted, ch.Type)
	assert.Equal(t, "items", ch.Resource)
	assert.Equal(t, "I9", ch.ID)
}
