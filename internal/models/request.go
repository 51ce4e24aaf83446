// Package models - API request types and input validation.
// This file defines the incoming click request.
package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// MaxCaptchaTokenLength is the longest verification token accepted before
// calling the verification provider.
const MaxCaptchaTokenLength = 2048

var (
	ErrCaptchaMissing = errors.New("captcha token is missing")
	ErrNotClicked     = errors.New("button not clicked")
)

// ClickRequest is the body of a click attempt. RemoteIP is filled in by the
// HTTP layer from the configured client address headers and never decoded
// from the body.
type ClickRequest struct {
	CaptchaToken string `json:"cf_token"`
	Clicked      bool   `json:"clicked"`
	RemoteIP     string `json:"-"`
}

// UnmarshalJSON accepts any JSON value for clicked and reads it by
// truthiness: false, 0, "" and null are unclicked, everything else is
// clicked. The token must still be a string.
func (r *ClickRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		CaptchaToken string `json:"cf_token"`
		Clicked      any    `json:"clicked"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.CaptchaToken = raw.CaptchaToken
	r.Clicked = truthy(raw.Clicked)
	return nil
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// Validate checks the body fields in the order the gate reports them: a
// missing token wins over a missing click flag.
func (r *ClickRequest) Validate() error {
	if strings.TrimSpace(r.CaptchaToken) == "" {
		return ErrCaptchaMissing
	}
	if !r.Clicked {
		return ErrNotClicked
	}
	return nil
}
