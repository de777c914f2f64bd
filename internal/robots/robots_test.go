package robots

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
)

func TestAllowedWhenRespectDisabled(t *testing.T) {
	agent := NewAgent(config.RobotsConfig{Respect: false, UserAgent: "zentra"}, nil)
	if !agent.Allowed(context.Background(), "https://example.com/private") {
		t.Error("respect=false must allow everything")
	}
}

func TestDisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "User-agent: *\nDisallow: /admin\n")
	}))
	defer srv.Close()

	agent := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "zentra"}, srv.Client())
	if agent.Allowed(context.Background(), srv.URL+"/admin/panel") {
		t.Error("disallowed path must be blocked")
	}
	if !agent.Allowed(context.Background(), srv.URL+"/public") {
		t.Error("allowed path must pass")
	}
}

func TestFailOpenOnMissingRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	agent := NewAgent(config.RobotsConfig{Respect: true, UserAgent: "zentra"}, srv.Client())
	if !agent.Allowed(context.Background(), srv.URL+"/anything") {
		t.Error("missing robots.txt must fail open")
	}
}
