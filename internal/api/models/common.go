// Package models defines request and response types for the gateway's REST API.
package models

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response.
type StatusResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}
