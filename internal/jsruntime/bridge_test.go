package jsruntime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, raw string) BridgeResponse {
	t.Helper()
	var response BridgeResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &response))
	return response
}

func TestDispatchBridgeWithoutHandler(t *testing.T) {
	response := decodeResponse(t, dispatchBridge(nil, `{"method":"GET","path":"/hydra/internal/health"}`))
	assert.Equal(t, 501, response.Status)
	assert.Equal(t, "Hydra API bridge is not configured", response.Body)
}

func TestDispatchBridgePassesDecodedRequest(t *testing.T) {
	var got BridgeRequest
	raw := dispatchBridge(func(request BridgeRequest) BridgeResponse {
		got = request
		return BridgeResponse{Status: 200, Body: "ok", Headers: map[string]string{"X-Test": "1"}}
	}, `{"method":"POST","path":"/hydra/internal/echo","query":"a=1","body":"hello","headers":{"content-type":"text/plain"}}`)

	response := decodeResponse(t, raw)
	assert.Equal(t, 200, response.Status)
	assert.Equal(t, "ok", response.Body)
	assert.Equal(t, "1", response.Headers["X-Test"])
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/hydra/internal/echo", got.Path)
	assert.Equal(t, "a=1", got.Query)
	assert.Equal(t, "hello", got.Body)
	assert.Equal(t, "text/plain", got.Headers["content-type"])
}

func TestDispatchBridgeStructuredBodyIsCompactJSON(t *testing.T) {
	var got BridgeRequest
	dispatchBridge(func(request BridgeRequest) BridgeResponse {
		got = request
		return BridgeResponse{Status: 200}
	}, `{"method":"POST","path":"/p","body":{"a":1}}`)

	assert.JSONEq(t, `{"a":1}`, got.Body)
}

func TestDispatchBridgeMapsPanicTo500(t *testing.T) {
	raw := dispatchBridge(func(BridgeRequest) BridgeResponse {
		panic("handler exploded")
	}, `{}`)

	response := decodeResponse(t, raw)
	assert.Equal(t, 500, response.Status)
	assert.Contains(t, response.Body, "handler exploded")
}

func TestDispatchBridgeMalformedRequest(t *testing.T) {
	var got BridgeRequest
	dispatchBridge(func(request BridgeRequest) BridgeResponse {
		got = request
		return BridgeResponse{Status: 200}
	}, `not json at all`)

	assert.Equal(t, "GET", got.Method)
	assert.Empty(t, got.Path)
}
