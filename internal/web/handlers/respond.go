// Package handlers contains the JSON API handlers for the QuickDesk
// server.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// errorBody is the uniform error payload.
type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// The header is already out; an encode failure here can only be
	// swallowed.
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// defaultTenant applies when the caller sends no tenant header. Single
// tenant deployments never set it.
const defaultTenant = "default"

func tenantID(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenant
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
