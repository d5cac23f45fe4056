package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Broker talks to the local session sidecar that mints the protocol tokens
// the remote platform expects. The sidecar owns the token cryptography; this
// client only shuttles tokens around.
type Broker struct {
	baseURL    string
	httpClient *http.Client
}

func NewBroker(baseURL string) *Broker {
	return &Broker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// StartChat mints the start-chat token required by the login call.
func (b *Broker) StartChat(ctx context.Context, sessionUUID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"uuid": sessionUUID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/start-chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start-chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("start-chat: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"x_avkn_start_chat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("start-chat: decoding response: %w", err)
	}
	return out.Token, nil
}

// RegisterChatTag registers the chat tag issued at login back with the sidecar.
func (b *Broker) RegisterChatTag(ctx context.Context, sessionUUID, chatTag, userID string) error {
	body, _ := json.Marshal(map[string]string{
		"uuid":     sessionUUID,
		"chat_tag": chatTag,
		"user_id":  userID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat-tag", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat-tag: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat-tag: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// JourneySeg mints the per-call journey segment token.
func (b *Broker) JourneySeg(ctx context.Context, sessionUUID, userID string) (string, error) {
	url := fmt.Sprintf("%s/journey-seg/%s/%s", b.baseURL, sessionUUID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("journey-seg: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("journey-seg: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"x_avkn_journey_seg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("journey-seg: decoding response: %w", err)
	}
	return out.Token, nil
}
