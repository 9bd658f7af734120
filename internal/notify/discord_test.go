package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/events"
)

type webhook struct {
	mu     sync.Mutex
	status int
	got    []webhookPayload
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.got = append(w.got, p)
	status := w.status
	w.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	rw.WriteHeader(status)
}

func (w *webhook) posts() []webhookPayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]webhookPayload(nil), w.got...)
}

func newNotifier(t *testing.T, hook *webhook, cfg config.NotifyConfig) *Discord {
	t.Helper()
	srv := httptest.NewServer(hook)
	t.Cleanup(srv.Close)
	cfg.DiscordWebhookURL = srv.URL
	if cfg.PerMinute == 0 {
		cfg.PerMinute = 30
	}
	d, err := NewDiscord(cfg, "Test Relay", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNewDiscordDisabled(t *testing.T) {
	if _, err := NewDiscord(config.NotifyConfig{}, "x", zerolog.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestCheatReportFilter(t *testing.T) {
	tests := []struct {
		name            string
		disconnectsOnly bool
		disconnected    bool
		wantPosts       int
		wantTitle       string
	}{
		{name: "all reports", disconnectsOnly: false, disconnected: false, wantPosts: 1, wantTitle: "Cheat report"},
		{name: "filtered report", disconnectsOnly: true, disconnected: false, wantPosts: 0},
		{name: "disconnect", disconnectsOnly: true, disconnected: true, wantPosts: 1, wantTitle: "Cheater disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := &webhook{}
			d := newNotifier(t, hook, config.NotifyConfig{DisconnectsOnly: tt.disconnectsOnly})
			err := d.onCheatReported(context.Background(), events.Event{
				Type: events.EventCheatReported,
				Payload: events.CheatReportPayload{
					ClientID:     3,
					Name:         "Red",
					FriendCode:   "red#1234",
					Call:         "SnapTo",
					Reason:       "snapped while not in a vent",
					Count:        1,
					Disconnected: tt.disconnected,
				},
			})
			if err != nil {
				t.Fatal(err)
			}
			posts := hook.posts()
			if len(posts) != tt.wantPosts {
				t.Fatalf("posts = %d, want %d", len(posts), tt.wantPosts)
			}
			if tt.wantPosts == 0 {
				return
			}
			embed := posts[0].Embeds[0]
			if embed.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", embed.Title, tt.wantTitle)
			}
			if len(embed.Fields) != 4 {
				t.Errorf("fields = %+v, want player, call, reports and friend code", embed.Fields)
			}
			if embed.Footer.Text == "" || embed.Timestamp == "" {
				t.Errorf("footer/timestamp not set: %+v", embed)
			}
		})
	}
}

func TestSendRateLimited(t *testing.T) {
	hook := &webhook{}
	d := newNotifier(t, hook, config.NotifyConfig{PerMinute: 2})
	for i := 0; i < 5; i++ {
		if err := d.Send(context.Background(), Embed{Title: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(hook.posts()); n != 2 {
		t.Errorf("posts = %d, want 2 (burst)", n)
	}
}

func TestSendErrorStatus(t *testing.T) {
	hook := &webhook{status: http.StatusTooManyRequests}
	d := newNotifier(t, hook, config.NotifyConfig{})
	if err := d.onClientKicked(context.Background(), events.Event{
		Payload: events.KickPayload{ClientID: 1, Reason: "spam", By: "console"},
	}); err == nil {
		t.Fatal("expected an error for a 429 response")
	}
}
