package telegram

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/picorelay/pkg/config"
)

var testToken = "1234567890:" + strings.Repeat("A", 35)

type apiCall struct {
	Method string
	Params map[string]any
}

// fakeBotAPI answers Bot API requests with canned envelopes and records
// every call.
type fakeBotAPI struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	calls  []apiCall
	errors map[string]string
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	f := &fakeBotAPI{t: t, errors: map[string]string{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

// failFor makes method fail for the given chat_id with an API error payload.
func (f *fakeBotAPI) failFor(chatID, payload string) {
	f.mu.Lock()
	f.errors[chatID] = payload
	f.mu.Unlock()
}

func (f *fakeBotAPI) handle(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	body, _ := io.ReadAll(r.Body)
	params := map[string]any{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &params)
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Params: params})
	chat, _ := params["chat_id"].(string)
	if chat == "" {
		if n, ok := params["chat_id"].(float64); ok {
			chat = jsonNumber(n)
		}
	}
	failure, failing := f.errors[chat]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		_, _ = io.WriteString(w, failure)
		return
	}

	switch method {
	case "forwardMessage", "sendMessage":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":501,"date":1700000000,"chat":{"id":-1002,"type":"channel"}}}`)
	case "copyMessage":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":502}}`)
	case "setWebhook", "deleteWebhook":
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case "getUpdates":
		_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"date":1700000000,"chat":{"id":-1001,"type":"supergroup"},"text":"hi"}}]}`)
	default:
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeBotAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) bot() *telego.Bot {
	bot, err := NewBot(config.TelegramConfig{Token: testToken, APIURL: f.srv.URL})
	require.NoError(f.t, err)
	return bot
}

func jsonNumber(n float64) string {
	b, _ := json.Marshal(int64(n))
	return string(b)
}
