package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadgenCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--url", ts.URL, "--users", "2", "--duration", "150ms", "--min-wait", "1ms", "--max-wait", "2ms"})
	require.NoError(t, cmd.Execute())

	s := out.String()
	assert.Contains(t, s, "Running 2 users against "+ts.URL)
	assert.Contains(t, s, "TASK")
	assert.Contains(t, s, "login")
	assert.Contains(t, s, "TOTAL")
}

func TestLoadgenCommand_RejectsBadFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--users", "0"})
	assert.Error(t, cmd.Execute())
}
