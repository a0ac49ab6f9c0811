package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSMSLocalClient_SendCode(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSMSLocalClient("key-1", srv.URL, "CREDAU")
	if err := c.SendCode(context.Background(), "+91 98765-43210", "123456"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if auth != "key-1" {
		t.Errorf("Authorization = %q, want %q", auth, "key-1")
	}
	if got.Route != "otp" || got.Numbers != "919876543210" || got.Variables != "123456" || got.Sender != "CREDAU" {
		t.Errorf("request = %+v", got)
	}
}

func TestSMSLocalClient_SendCode_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewSMSLocalClient("key-1", srv.URL, "")
	if err := c.SendCode(context.Background(), "15551234567", "123456"); err == nil {
		t.Fatal("SendCode should fail on non-200")
	}
}

func TestSMSLocalClient_SendCode_NotConfigured(t *testing.T) {
	c := NewSMSLocalClient("", "", "")
	if err := c.SendCode(context.Background(), "15551234567", "123456"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if c.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want default", c.BaseURL)
	}
}

func TestSMSLocalClient_SendCode_InvalidPhone(t *testing.T) {
	c := NewSMSLocalClient("key-1", "http://127.0.0.1:1", "")
	if err := c.SendCode(context.Background(), "not a number", "123456"); err == nil {
		t.Fatal("SendCode should reject a phone with no digits")
	}
}
