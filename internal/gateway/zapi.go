// internal/gateway/zapi.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SendResult carries the gateway's correlation ids for a delivered message.
type SendResult struct {
	MessageID string
	ZaapID    string
	Status    int
}

// InstanceStatus is a snapshot of one gateway instance's connection state.
type InstanceStatus struct {
	Instance            string `json:"instance"`
	Connected           bool   `json:"connected"`
	SmartphoneConnected bool   `json:"smartphoneConnected"`
	PhoneNumber         string `json:"phoneNumber,omitempty"`
}

// Client is the messaging gateway surface the core depends on. The wire API
// is loosely specified and unreliable; implementations keep failure modes
// conservative (an inconclusive existence check reports true).
type Client interface {
	SendText(ctx context.Context, instance, phone, message string) (*SendResult, error)
	SendImage(ctx context.Context, instance, phone, caption, imageBase64 string) (*SendResult, error)
	SendVideo(ctx context.Context, instance, phone, caption, videoBase64 string) (*SendResult, error)

	// PhoneExists reports whether the recipient is reachable. When the check
	// endpoint itself misbehaves it returns true to avoid false negatives.
	PhoneExists(ctx context.Context, instance, phone string) (bool, error)

	// DevicePhoneNumber returns the connected device's number, or "" when
	// unknown.
	DevicePhoneNumber(ctx context.Context, instance string) (string, error)

	Status(ctx context.Context, instance string) (*InstanceStatus, error)
}

// ZAPI is the Z-API HTTP implementation of Client. Credentials come from the
// environment per instance (ZAPI_INSTANCE1_ID/ZAPI_INSTANCE1_TOKEN and the
// *2 variants), plus the account-level ZAPI_CLIENT_TOKEN.
type ZAPI struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func NewZAPI(log zerolog.Logger) *ZAPI {
	return &ZAPI{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func zapiBase() string {
	raw := os.Getenv("ZAPI_BASE_URLS")
	if raw == "" {
		raw = os.Getenv("ZAPI_BASE_URL")
	}
	if raw == "" {
		raw = "https://api.z-api.io"
	}
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimRight(strings.TrimSpace(part), "/"); s != "" {
			return s
		}
	}
	return "https://api.z-api.io"
}

func clientToken() string {
	return strings.Trim(os.Getenv("ZAPI_CLIENT_TOKEN"), `'"`)
}

func instanceCreds(instance string) (id, token string, err error) {
	switch instance {
	case "whatsapp1":
		id, token = os.Getenv("ZAPI_INSTANCE1_ID"), os.Getenv("ZAPI_INSTANCE1_TOKEN")
	case "whatsapp2":
		id, token = os.Getenv("ZAPI_INSTANCE2_ID"), os.Getenv("ZAPI_INSTANCE2_TOKEN")
	default:
		return "", "", fmt.Errorf("unknown gateway instance %q", instance)
	}
	if id == "" || token == "" {
		return "", "", fmt.Errorf("missing gateway credentials for instance %q", instance)
	}
	return id, token, nil
}

func (z *ZAPI) endpoint(instance, path string) (string, error) {
	id, token, err := instanceCreds(instance)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/instances/%s/token/%s/%s", zapiBase(), id, token, path), nil
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ZaapID    string `json:"zaapId"`
	ID        string `json:"id"`
}

func (z *ZAPI) send(ctx context.Context, instance, path string, body map[string]string) (*SendResult, error) {
	url, err := z.endpoint(instance, path)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Token", clientToken())

	res, err := z.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s failed: %d %s", path, res.StatusCode, truncate(string(raw), 500))
	}

	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)
	messageID := parsed.MessageID
	if messageID == "" {
		messageID = parsed.ID
	}
	return &SendResult{MessageID: messageID, ZaapID: parsed.ZaapID, Status: res.StatusCode}, nil
}

func (z *ZAPI) SendText(ctx context.Context, instance, phone, message string) (*SendResult, error) {
	return z.send(ctx, instance, "send-text", map[string]string{
		"phone":   phone,
		"message": message,
	})
}

func (z *ZAPI) SendImage(ctx context.Context, instance, phone, caption, imageBase64 string) (*SendResult, error) {
	return z.send(ctx, instance, "send-image", map[string]string{
		"phone":   phone,
		"caption": caption,
		"image":   imageBase64,
	})
}

func (z *ZAPI) SendVideo(ctx context.Context, instance, phone, caption, videoBase64 string) (*SendResult, error) {
	return z.send(ctx, instance, "send-video", map[string]string{
		"phone":   phone,
		"caption": caption,
		"video":   videoBase64,
	})
}

func (z *ZAPI) getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Client-Token", clientToken())

	res, err := z.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res.StatusCode, fmt.Errorf("gateway GET failed: %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return res.StatusCode, err
	}
	return res.StatusCode, nil
}

func (z *ZAPI) PhoneExists(ctx context.Context, instance, phone string) (bool, error) {
	url, err := z.endpoint(instance, "phone-exists/"+phone)
	if err != nil {
		return false, err
	}
	var body struct {
		Exists bool `json:"exists"`
		Valid  bool `json:"valid"`
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if _, err := z.getJSON(ctx, url, &body); err != nil {
		// Inconclusive check: default to reachable so a flaky endpoint never
		// blocks sends.
		z.log.Debug().Err(err).Str("instance", instance).Msg("phone-exists check inconclusive")
		return true, nil
	}
	return body.Exists || body.Valid || body.Result.Exists, nil
}

func (z *ZAPI) DevicePhoneNumber(ctx context.Context, instance string) (string, error) {
	url, err := z.endpoint(instance, "device")
	if err != nil {
		return "", err
	}
	var body struct {
		Phone       string `json:"phone"`
		PhoneNumber string `json:"phoneNumber"`
		Device      struct {
			PhoneNumber string `json:"phoneNumber"`
		} `json:"device"`
	}
	if _, err := z.getJSON(ctx, url, &body); err != nil {
		return "", err
	}
	switch {
	case body.Phone != "":
		return body.Phone, nil
	case body.PhoneNumber != "":
		return body.PhoneNumber, nil
	default:
		return body.Device.PhoneNumber, nil
	}
}

func (z *ZAPI) Status(ctx context.Context, instance string) (*InstanceStatus, error) {
	url, err := z.endpoint(instance, "status")
	if err != nil {
		return nil, err
	}
	var body struct {
		Connected           bool `json:"connected"`
		SmartphoneConnected bool `json:"smartphoneConnected"`
	}
	if _, err := z.getJSON(ctx, url, &body); err != nil {
		return nil, err
	}
	st := &InstanceStatus{
		Instance:            instance,
		Connected:           body.Connected,
		SmartphoneConnected: body.SmartphoneConnected,
	}
	if st.Connected {
		if number, err := z.DevicePhoneNumber(ctx, instance); err == nil {
			st.PhoneNumber = number
		}
	}
	return st, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Client = (*ZAPI)(nil)
