// Package models defines the core data structures for BloodLink.
//
// It includes the donor, hospital, request and acceptance entities, the
// conversation session and its per-flow context, and the inbound/outbound
// message types shared across modules.
package models

import (
	"errors"
)

var (
	ErrUnknownContextKind = errors.New("unknown session context kind")
	ErrInvalidUnits       = errors.New("units must be positive")
)

// MessageStatus is a provider delivery state reported through receipts.
type MessageStatus string

const (
	MessageStatusQueued      MessageStatus = "queued"
	MessageStatusSent        MessageStatus = "sent"
	MessageStatusDelivered   MessageStatus = "delivered"
	MessageStatusRead        MessageStatus = "read"
	MessageStatusFailed      MessageStatus = "failed"
	MessageStatusUndelivered MessageStatus = "undelivered"
)

// APIStatus is the status field of an APIResponse.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// Receipt is a delivery status callback for an outbound message.
type Receipt struct {
	MessageID string        `json:"message_id,omitempty"`
	To        string        `json:"to"`
	Status    MessageStatus `json:"status"`
	Time      int64         `json:"time"`
}

// Media references an attachment on an inbound message. Transports that
// deliver attachments inline (whatsmeow) fill Data; URL-based transports
// (Twilio) fill URL and leave Data empty.
type Media struct {
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// Response represents an incoming message from a phone number.
type Response struct {
	MessageID string `json:"message_id,omitempty"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Media     *Media `json:"media,omitempty"`
	Time      int64  `json:"time"`
}

// HasMedia reports whether the message carries an attachment.
func (r Response) HasMedia() bool {
	return r.Media != nil && (r.Media.URL != "" || len(r.Media.Data) > 0)
}

// APIResponse is the JSON envelope of the HTTP surface.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error builds an error envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

// Failure is an error envelope that still carries a result, e.g. the
// per-dependency map of a failed health check.
func Failure(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message, Result: result}
}
