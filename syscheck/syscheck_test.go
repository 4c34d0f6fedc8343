package syscheck

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ollama "sollama/services/ollama/llm"
)

type fixedProbe bool

func (p fixedProbe) Available() bool { return bool(p) }

func TestChecker_Run(t *testing.T) {
	t.Run("Should report a reachable server with its models", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"models":[{"name":"llama3.2"}]}`)
		}))
		t.Cleanup(srv.Close)
		svc := ollama.NewService(ollama.Config{URL: srv.URL}, nil)

		var out bytes.Buffer
		report := New(svc, fixedProbe(true), nil).Run(context.Background(), &out)

		assert.True(t, report.ServerReachable)
		require.Len(t, report.Models, 1)
		assert.True(t, report.SpeechAvailable)
		assert.Contains(t, out.String(), "reachable")
	})

	t.Run("Should print install hints when the server is down", func(t *testing.T) {
		svc := ollama.NewService(ollama.Config{URL: "http://127.0.0.1:1"}, nil)

		var out bytes.Buffer
		report := New(svc, nil, nil).Run(context.Background(), &out)

		assert.False(t, report.ServerReachable)
		assert.Contains(t, out.String(), "not reachable")
		assert.Contains(t, out.String(), "ollama")
	})

	t.Run("Should flag a missing speech backend", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"models":[]}`)
		}))
		t.Cleanup(srv.Close)
		svc := ollama.NewService(ollama.Config{URL: srv.URL}, nil)

		var out bytes.Buffer
		report := New(svc, fixedProbe(false), nil).Run(context.Background(), &out)

		assert.False(t, report.SpeechAvailable)
		assert.Contains(t, out.String(), "text only")
	})
}
