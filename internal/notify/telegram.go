// Package notify wraps the Telegram Bot API: message delivery for the
// watcher's notifications and diagnostics, plus the update long-poll used by
// the command layer.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alexey-kott/youdo-watcher/internal/model"
)

// MaxMessageLen is the Bot API's hard ceiling on message text length.
// Callers composing multi-item batches split on item boundaries to stay
// under it; Send truncates as a last resort so a single oversized text still
// goes out rather than erroring.
const MaxMessageLen = 4096

// ErrUnavailable wraps every delivery failure: transport errors, rate
// limiting, and invalid-destination responses from the Bot API.
var ErrUnavailable = errors.New("notify: telegram unavailable")

const defaultAPIURL = "https://api.telegram.org"

// Telegram is a minimal Bot API client. One instance is constructed by the
// composition root and shared for the whole process lifetime.
type Telegram struct {
	APIURL string
	token  string
	client *http.Client
}

// NewTelegram constructs a client for the given bot token.
func NewTelegram(token string) *Telegram {
	return &Telegram{
		APIURL: defaultAPIURL,
		token:  token,
		// Generous timeout: Updates holds the connection open for the long
		// poll window.
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

// apiResponse mirrors the Bot API envelope common to every method.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// Update is one entry from getUpdates.
type Update struct {
	ID      int64    `json:"update_id"`
	Message *Message `json:"message"`
}

// Message is the subset of a Telegram message the watcher cares about.
type Message struct {
	Chat Chat   `json:"chat"`
	From *User  `json:"from"`
	Text string `json:"text"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the Bot API user record.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// AsModel converts the wire user into the domain user.
func (u User) AsModel() model.User {
	return model.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

// Send delivers text to the given chat. Texts longer than MaxMessageLen are
// truncated; batch callers are expected to have split beforehand.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if len(text) > MaxMessageLen {
		text = text[:MaxMessageLen]
	}

	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}

	_, err := t.call(ctx, "sendMessage", payload)
	return err
}

// Me verifies the bot token by calling getMe and returns the bot's user
// record.
func (t *Telegram) Me(ctx context.Context) (User, error) {
	raw, err := t.call(ctx, "getMe", nil)
	if err != nil {
		return User{}, err
	}

	var me User
	if err := json.Unmarshal(raw, &me); err != nil {
		return User{}, fmt.Errorf("%w: decode getMe: %v", ErrUnavailable, err)
	}

	return me, nil
}

// Updates long-polls getUpdates for up to timeout seconds, returning updates
// with id > offset.
func (t *Telegram) Updates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	raw, err := t.call(ctx, "getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("%w: decode getUpdates: %v", ErrUnavailable, err)
	}

	return updates, nil
}

// call POSTs one Bot API method and unwraps the response envelope.
func (t *Telegram) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", method, err)
		}
		body = bytes.NewReader(encoded)
	}

	reqURL := fmt.Sprintf("%s/bot%s/%s", t.APIURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", ErrUnavailable, method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("%w: %s: api error %d: %s",
			ErrUnavailable, method, envelope.ErrorCode, envelope.Description)
	}

	return envelope.Result, nil
}
