package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"giftpool/internal/model"
	"giftpool/internal/service"
)

type mockService struct {
	sendResp    *model.GiftResponse
	sendErr     error
	balanceResp *model.KeyBalanceResponse
	balanceErr  error
	lastReq     model.GiftRequest
	lastKey     string
}

func (m *mockService) SendGifts(ctx context.Context, req model.GiftRequest) (*model.GiftResponse, error) {
	m.lastReq = req
	return m.sendResp, m.sendErr
}

func (m *mockService) KeyBalance(ctx context.Context, key string) (*model.KeyBalanceResponse, error) {
	m.lastKey = key
	return m.balanceResp, m.balanceErr
}

func newTestServer(svc service.GiftService) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	return httptest.NewServer(mux)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&mockService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSendGifts_OK(t *testing.T) {
	svc := &mockService{
		sendResp: &model.GiftResponse{
			Success: true,
			Message: "2 of 2 gifts sent",
			Details: model.GiftDetails{SuccessCount: 2, TotalItems: 2},
		},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	body := `{"friend_code":"AB12CD","items":["hat","plant"],"key":"k1"}`
	resp, err := http.Post(srv.URL+"/api/gift", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out model.GiftResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !out.Success || out.Details.SuccessCount != 2 {
		t.Errorf("response: %+v", out)
	}
	if svc.lastReq.FriendCode != "AB12CD" || len(svc.lastReq.Items) != 2 || svc.lastReq.Key != "k1" {
		t.Errorf("decoded request: %+v", svc.lastReq)
	}
}

func TestSendGifts_InvalidJSON(t *testing.T) {
	srv := newTestServer(&mockService{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/gift", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSendGifts_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid key", service.ErrInvalidKey, http.StatusUnauthorized},
		{"item count", service.ErrItemCount, http.StatusBadRequest},
		{"unknown item", service.ErrUnknownItem, http.StatusNotFound},
		{"wrapped unknown item", errors.Join(service.ErrUnknownItem, errors.New("spaceship")), http.StatusNotFound},
		{"key balance", service.ErrKeyBalance, http.StatusPaymentRequired},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&mockService{sendErr: tc.err})
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/gift", "application/json",
				strings.NewReader(`{"friend_code":"x","items":["hat"],"key":"k"}`))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestKeyBalance(t *testing.T) {
	svc := &mockService{
		balanceResp: &model.KeyBalanceResponse{Key: "k1", Balance: 320, Active: true},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/balance/k1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out model.KeyBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Balance != 320 || !out.Active {
		t.Errorf("response: %+v", out)
	}
	if svc.lastKey != "k1" {
		t.Errorf("key passed to service: %q", svc.lastKey)
	}
}

func TestKeyBalance_InvalidKey(t *testing.T) {
	srv := newTestServer(&mockService{balanceErr: service.ErrInvalidKey})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/balance/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
