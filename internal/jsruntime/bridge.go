package jsruntime

import (
	"encoding/json"
	"fmt"
)

// dispatchBridge is the backend-independent half of the __hydraFetch
// callback: decode the request JSON, run the handler, encode the response.
// It never fails; malformed input becomes an empty GET request and handler
// panics become a 500 response, so the JS side always gets valid JSON.
func dispatchBridge(bridge BridgeFunc, requestJSON string) string {
	request := decodeBridgeRequest(requestJSON)

	var response BridgeResponse
	if bridge == nil {
		response = BridgeResponse{Status: 501, Body: "Hydra API bridge is not configured"}
	} else {
		response = invokeBridge(bridge, request)
	}
	if response.Headers == nil {
		response.Headers = map[string]string{}
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return `{"status":500,"body":"Invalid bridge response","headers":{}}`
	}
	return string(encoded)
}

func invokeBridge(bridge BridgeFunc, request BridgeRequest) (response BridgeResponse) {
	defer func() {
		if r := recover(); r != nil {
			response = BridgeResponse{Status: 500, Body: fmt.Sprint(r)}
		}
	}()
	return bridge(request)
}

func decodeBridgeRequest(requestJSON string) BridgeRequest {
	var raw struct {
		Method  string            `json:"method"`
		Path    string            `json:"path"`
		Query   string            `json:"query"`
		Body    json.RawMessage   `json:"body"`
		Headers map[string]string `json:"headers"`
	}
	request := BridgeRequest{Method: "GET"}
	if err := json.Unmarshal([]byte(requestJSON), &raw); err != nil {
		return request
	}
	if raw.Method != "" {
		request.Method = raw.Method
	}
	request.Path = raw.Path
	request.Query = raw.Query
	request.Headers = raw.Headers
	if len(raw.Body) > 0 {
		// A string body arrives quoted; anything else is passed through as
		// compact JSON, mirroring how bundles post structured payloads.
		var s string
		if err := json.Unmarshal(raw.Body, &s); err == nil {
			request.Body = s
		} else {
			request.Body = string(raw.Body)
		}
	}
	return request
}
