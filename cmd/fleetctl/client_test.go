package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCall(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"id":"GN0001"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, WithToken("t0k"))
	require.NoError(t, err)
	res, err := c.Call(context.Background(), "createGenerator", map[string]any{"serial_no": "S1"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer t0k", gotAuth)
	assert.Equal(t, "/api/v1/call/createGenerator", gotPath)
	assert.Equal(t, map[string]any{"serial_no": "S1"}, gotBody)
	assert.Equal(t, "GN0001", res["id"])
	assert.Equal(t, true, res["ok"])
}

func TestClientCallDecodesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"field not present","code":"invalid-argument","field":"status"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "setGeneratorStatus", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid-argument", apiErr.Code)
	assert.Equal(t, "status", apiErr.Field)
	assert.Equal(t, "error: field not present, field: status, code: invalid-argument, status: 400", apiErr.Error())
}

func TestClientCallNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down\n"))
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "listTasks", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestClientWatchNotifications(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"changed":true,"items":[{"id":"n1","title":"hi"}],"cursor":42}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL + "/")
	require.NoError(t, err)
	res, err := c.WatchNotifications(context.Background(), 7, nil, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "since=7&timeout=2s", gotQuery)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(42), res.Cursor)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "n1", res.Items[0]["id"])

	_, err = c.WatchNotifications(context.Background(), 42, []string{"n1", "n2"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "seen=n1&seen=n2&since=42", gotQuery)
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
}

func TestShowTo(t *testing.T) {
	color.NoColor = true
	rows := []map[string]any{
		{"id": "GN0001", "size_kw": float64(25), "status": "Active"},
		{"id": "GN0002", "size_kw": 7.5, "status": "Repair"},
	}
	fields := []TableField{
		{Header: "ID", Field: "id"},
		{Header: "KW", Field: "size_kw"},
		{Header: "STATUS", Formatter: statusField("status")},
	}

	buf := &bytes.Buffer{}
	showTo(buf, encodeColumn, fields, rows, rows)
	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "GN0001")
	assert.Contains(t, out, "7.50")
	assert.Contains(t, out, "25")

	buf.Reset()
	showTo(buf, encodeNoHeader, fields, rows, rows)
	assert.NotContains(t, buf.String(), "STATUS")

	buf.Reset()
	showTo(buf, encodeYaml, fields, rows, rows)
	assert.Contains(t, buf.String(), "- id: GN0001")

	buf.Reset()
	showTo(buf, encodeJsonRaw, fields, rows, rows[0])
	assert.JSONEq(t, `{"id":"GN0001","size_kw":25,"status":"Active"}`, buf.String())
}

func TestFieldFormatters(t *testing.T) {
	assert.Equal(t, "", fieldFormatter(nil))
	assert.Equal(t, "3", fieldFormatter(float64(3)))
	assert.Equal(t, "a,b", fieldFormatter([]any{"a", "b"}))
	assert.Equal(t, "true", fieldFormatter(true))

	ms := float64(time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local).UnixMilli())
	assert.Equal(t, "2026-03-04", dateField("d")(map[string]any{"d": ms}))
	assert.Equal(t, "", dateField("d")(map[string]any{}))
	assert.Equal(t, "1,234.5", moneyField("amount")(map[string]any{"amount": 1234.5}))
}

func TestTokenFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fleetctl", "token.json")
	now := time.Unix(1000, 0)

	token, err := loadToken(file, now)
	require.NoError(t, err)
	assert.Equal(t, "", token)

	require.NoError(t, storeToken(file, savedToken{Token: "abc", Expiry: now.Add(time.Hour)}))
	token, err = loadToken(file, now)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = loadToken(file, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "", token)

	require.NoError(t, storeToken(file, savedToken{Token: "forever"}))
	token, err = loadToken(file, now.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "forever", token)

	require.NoError(t, os.WriteFile(file, []byte("{"), 0600))
	_, err = loadToken(file, now)
	assert.Error(t, err)
}
