package gameclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"giftpool/internal/model"
)

const (
	loginPath   = "/auth/1/auth/1/login"
	resolvePath = "/ext/1/friendcodes/1/resolve"
	giftPath    = "/shop/1/itemshop/1/purchase"

	userAgent = "BestHTTP/2 v2.8.5"
	vendorID  = "d53CaC8BQ-ijeObp2rCh9i"
)

// Client talks to the remote game platform. One Client is shared by all
// batches; per-session proxies are applied per request.
type Client struct {
	apiURL  string
	broker  *Broker
	proxies []string
	timeout time.Duration
}

func New(apiURL string, broker *Broker, proxiesFile string) (*Client, error) {
	c := &Client{
		apiURL:  strings.TrimRight(apiURL, "/"),
		broker:  broker,
		timeout: 15 * time.Second,
	}
	if proxiesFile != "" {
		proxies, err := loadProxies(proxiesFile)
		if err != nil {
			return nil, err
		}
		c.proxies = proxies
	}
	return c, nil
}

func loadProxies(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxies file: %w", err)
	}
	var proxies []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			proxies = append(proxies, line)
		}
	}
	return proxies, nil
}

// pickProxy returns a random proxy URL, or "" when none are configured.
func (c *Client) pickProxy() string {
	if len(c.proxies) == 0 {
		return ""
	}
	return c.proxies[mrand.Intn(len(c.proxies))]
}

func (c *Client) httpClient(proxyURL string) *http.Client {
	client := &http.Client{Timeout: c.timeout}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
	return client
}

// Authenticate logs an account in and returns a fresh session pinned to a
// randomly picked proxy. The chat tag still has to be registered with the
// broker before the session is usable; see RegisterChatTag.
func (c *Client) Authenticate(ctx context.Context, account model.Account) (*Session, error) {
	sessionUUID := newUUID()
	advertisingID := newUUID()

	startChatToken, err := c.broker.StartChat(ctx, sessionUUID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"type": "email",
		"request": map[string]string{
			"raw_password":  account.Password,
			"email_address": account.Login,
		},
		"consents": map[string]bool{
			"consent.9": true,
			"terms.8":   true,
			"age.9":     true,
		},
		"sys_info": deviceProfile,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setBaseHeaders(req)
	req.Header.Set("X-Avkn-AdvertisingID", advertisingID)
	req.Header.Set("X-Avkn-GameSessionID", sessionUUID)
	req.Header.Set("X-Avkn-TZOffset", "-3")
	req.Header.Set("X-Avkn-Device", "samsung SM-J500M")
	req.Header.Set("X-Avkn-Start-Chat", startChatToken)

	proxyURL := c.pickProxy()
	resp, err := c.httpClient(proxyURL).Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var loginResp struct {
		UserID     json.Number `json:"user_id"`
		LoginToken string      `json:"login_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, fmt.Errorf("login: decoding response: %w", err)
	}

	slog.Info("login successful", "account", account.Login)

	return &Session{
		UUID:           sessionUUID,
		AdvertisingID:  advertisingID,
		UserID:         loginResp.UserID.String(),
		LoginToken:     loginResp.LoginToken,
		ChatTag:        resp.Header.Get("X-Avkn-Chat-Tag"),
		JWT:            resp.Header.Get("X-Avkn-Jwtsession"),
		SessionToken:   resp.Header.Get("X-Avkn-Session"),
		StartChatToken: startChatToken,
		ProxyURL:       proxyURL,
	}, nil
}

// RegisterChatTag completes session setup with the broker.
func (c *Client) RegisterChatTag(ctx context.Context, s *Session) error {
	return c.broker.RegisterChatTag(ctx, s.UUID, s.ChatTag, s.UserID)
}

// ResolveFriend turns a caller-supplied friend code into the remote player id.
func (c *Client) ResolveFriend(ctx context.Context, friendCode string, s *Session) (int64, error) {
	body, _ := json.Marshal(map[string]string{"friend_code": friendCode})
	req, err := c.sessionRequest(ctx, s, resolvePath, body)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient(s.ProxyURL).Do(req)
	if err != nil {
		return 0, fmt.Errorf("resolving friend code: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("resolving friend code: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		FriendID json.Number `json:"friend_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("resolving friend code: decoding response: %w", err)
	}
	id, err := out.FriendID.Int64()
	if err != nil {
		return 0, fmt.Errorf("resolving friend code: bad friend_id %q", out.FriendID)
	}
	return id, nil
}

// Purchase sends one item to the resolved recipient and decodes the remote
// response into the closed Outcome set. A returned error means the call never
// produced a decodable response (network failure, cancelled context).
func (c *Client) Purchase(ctx context.Context, itemID string, friendID int64, s *Session) (Outcome, error) {
	body, _ := json.Marshal(map[string]any{
		"item_id":   itemID,
		"friend_id": friendID,
	})
	req, err := c.sessionRequest(ctx, s, giftPath, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient(s.ProxyURL).Do(req)
	if err != nil {
		return nil, fmt.Errorf("purchase: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("purchase: reading response: %w", err)
	}

	return decodePurchase(resp.StatusCode, resp.Header, raw), nil
}

// sessionRequest builds a POST carrying the full session header set, including
// a freshly minted journey segment.
func (c *Client) sessionRequest(ctx context.Context, s *Session, path string, body []byte) (*http.Request, error) {
	journeySeg, err := c.broker.JourneySeg(ctx, s.UUID, s.UserID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setBaseHeaders(req)
	req.Header.Set("X-Avkn-UserID", s.UserID)
	req.Header.Set("X-Avkn-AdvertisingID", s.AdvertisingID)
	req.Header.Set("X-Avkn-GameSessionID", s.UUID)
	req.Header.Set("X-Avkn-Locale", "pt-PT")
	req.Header.Set("X-Avkn-Journey-Seq", journeySeg)
	req.Header.Set("X-Avkn-Session", s.SessionToken)
	req.Header.Set("X-Avkn-JWTSession", s.JWT)
	return req, nil
}

func (c *Client) setBaseHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Avkn-ApiVersion", "15")
	req.Header.Set("X-Avkn-ClientOS", "GooglePlay")
	req.Header.Set("X-Avkn-ClientPlatform", "GooglePlay")
	req.Header.Set("X-Avkn-ClientVersion", "2.015.00")
	req.Header.Set("X-Avkn-ClientVersionCode", "201500")
	req.Header.Set("X-Avkn-VendorID", vendorID)
	req.Header.Set("User-Agent", userAgent)
}

// decodePurchase maps a raw purchase response onto the Outcome variants. This
// is the only place remote status codes and error strings are interpreted.
func decodePurchase(statusCode int, header http.Header, raw []byte) Outcome {
	var body struct {
		Error   string `json:"error"`
		Balance struct {
			Coins *int64 `json:"coins"`
		} `json:"balance"`
	}
	_ = json.Unmarshal(raw, &body)

	switch statusCode {
	case http.StatusOK:
		if body.Balance.Coins != nil {
			return Purchased{NewBalance: *body.Balance.Coins, BalanceKnown: true}
		}
		return Purchased{}
	case http.StatusConflict:
		return AlreadyOwned{}
	case http.StatusPaymentRequired:
		var newBalance int64
		if body.Balance.Coins != nil {
			newBalance = *body.Balance.Coins
		}
		return InsufficientBalance{NewBalance: newBalance}
	case http.StatusForbidden:
		locHeader := header.Get("X-Avkn-Error-Localisation")
		if strings.Contains(body.Error, RateLimitReason) || strings.Contains(locHeader, RateLimitReason) {
			return RateLimited{}
		}
		if strings.Contains(body.Error, levelGateMarker) {
			return LevelGated{}
		}
		return Other{StatusCode: statusCode, Code: body.Error, Message: body.Error}
	default:
		msg := body.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return Other{StatusCode: statusCode, Code: body.Error, Message: msg}
	}
}

// newUUID generates a random RFC 4122 v4 identifier. The pack carries no uuid
// library; sixteen random bytes are all the remote protocol needs.
func newUUID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// deviceProfile mirrors the handset fingerprint the remote platform expects
// alongside a login.
var deviceProfile = map[string]any{
	"batteryLevel":            0.01,
	"batteryStatus":           "Charging",
	"operatingSystem":         "Android OS 9",
	"operatingSystemFamily":   "Other",
	"processorType":           "ARMv7",
	"processorFrequency":      1209,
	"processorCount":          4,
	"systemMemorySize":        1378,
	"deviceModel":             "samsung SM-J500M",
	"supportsAccelerometer":   true,
	"supportsGyroscope":       false,
	"supportsLocationService": true,
	"supportsVibration":       true,
	"supportsAudio":           true,
	"deviceType":              "Handheld",
	"graphicsMemorySize":      512,
	"graphicsDeviceName":      "Adreno (TM) 306",
	"graphicsDeviceVendor":    "Qualcomm",
	"graphicsDeviceID":        0,
	"graphicsDeviceVendorID":  0,
	"graphicsDeviceType":      "OpenGLES3",
	"graphicsUVStartsAtTop":   false,
	"graphicsDeviceVersion":   "OpenGL ES 3.0",
}
