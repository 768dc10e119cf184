package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// apiClient talks to a running gateway's operator API.
var apiClient = &http.Client{Timeout: 10 * time.Second}

func apiDo(method, path string, out any) error {
	req, err := http.NewRequest(method, gatewayURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", gatewayURL, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !envelope.OK {
		if envelope.Code != "" {
			return fmt.Errorf("%s (%s)", envelope.Error, envelope.Code)
		}
		return fmt.Errorf("%s", envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

func apiGet(path string, out any) error    { return apiDo(http.MethodGet, path, out) }
func apiPost(path string, out any) error   { return apiDo(http.MethodPost, path, out) }
func apiDelete(path string, out any) error { return apiDo(http.MethodDelete, path, out) }
