package adapters

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackAlertsPostsText(t *testing.T) {
	var channel, text string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		channel = r.FormValue("channel")
		text = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"channel":"C123","ts":"1700000000.000100"}`)
	}))
	defer srv.Close()

	s := &slackAlerts{
		client:  slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/")),
		channel: "C123",
		log:     zerolog.Nop(),
	}
	require.NoError(t, s.Send(context.Background(), "validator 0xabcdef missed a block"))
	assert.Equal(t, "C123", channel)
	assert.Equal(t, "validator 0xabcdef missed a block", text)
}

func TestSlackAlertsReportsFailure(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer srv.Close()

	s := &slackAlerts{
		client:  slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/")),
		channel: "nope",
		log:     zerolog.Nop(),
	}
	err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
