package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"group-adder/internal/domain"
)

const testToken = "123456:secret-token"

// fakeGetter is a minimal paramstore.Getter stub.
type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func tokenGetter() *fakeGetter {
	return &fakeGetter{val: fmt.Sprintf(`{"token":%q}`, testToken)}
}

type botRoute func(params map[string]any) (int, string)

// fakeBotAPI serves Bot API methods from a route table and records calls.
type fakeBotAPI struct {
	mu     sync.Mutex
	routes map[string]botRoute
	calls  []string
	params []map[string]any
	files  map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
		body, ok := f.files[strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
		return
	}
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.params = append(f.params, params)
	route, ok := f.routes[method]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found: method not found"}`))
		return
	}
	status, body := route(params)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func ok(result string) (int, string) {
	return http.StatusOK, `{"ok":true,"result":` + result + `}`
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient(tokenGetter(), "/group-adder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// URL helpers
// ---------------------------------------------------------------------------

func TestMethodURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.telegram.org", "https://api.telegram.org/botT/getMe"},
		{"https://api.telegram.org/", "https://api.telegram.org/botT/getMe"},
		{"", "https://api.telegram.org/botT/getMe"},
		{"http://localhost:8081", "http://localhost:8081/botT/getMe"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, methodURL(tc.base, "T", "getMe"), "base=%q", tc.base)
	}
	require.Equal(t, "https://api.telegram.org/file/botT/documents/a.txt", fileURL("", "T", "/documents/a.txt"))
}

// ---------------------------------------------------------------------------
// NewClient and token loading
// ---------------------------------------------------------------------------

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/group-adder")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)

	c, err := NewClient(&fakeGetter{}, "/group-adder/")
	require.NoError(t, err)
	require.Equal(t, "/group-adder/bot-token", c.tokenParameterName())
	require.Equal(t, defaultBaseURL, c.baseURL)
}

func TestResolveToken_FetchedOnce(t *testing.T) {
	g := tokenGetter()
	c, err := NewClient(g, "/group-adder")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tok, err := c.resolveToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, testToken, tok)
	}
	require.Equal(t, 1, g.calls)
}

func TestCall_TokenErrorIsReturned(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ssm unavailable")}, "/group-adder")
	require.NoError(t, err)
	_, err = c.GetMe(context.Background())
	require.ErrorContains(t, err, "ssm unavailable")
}

// ---------------------------------------------------------------------------
// call / error decoding
// ---------------------------------------------------------------------------

func TestGetMe_HappyPath(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getMe": func(map[string]any) (int, string) { return ok(`{"id":555,"is_bot":true,"first_name":"Adder","username":"adder_bot"}`) },
	}}
	c := newTestClient(t, api)

	u, err := c.GetMe(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(555), u.ID)
	require.Equal(t, "adder_bot", u.Username)

	// Self caches the first successful lookup.
	for i := 0; i < 2; i++ {
		id, err := c.Self(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(555), id)
	}
	require.Equal(t, []string{"getMe", "getMe"}, api.calls)
}

func TestCall_APIErrorCarriesDescriptionAndRetryAfter(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"addChatMember": func(map[string]any) (int, string) {
			return http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 17","parameters":{"retry_after":17}}`
		},
	}}
	c := newTestClient(t, api)

	err := c.AddMember(context.Background(), -100, 42)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatusCode())
	require.Equal(t, 17, apiErr.RetryAfter)
	require.Equal(t, "addChatMember", apiErr.Method)
	require.Contains(t, err.Error(), "Too Many Requests")
	require.Equal(t, float64(-100), api.params[0]["chat_id"])
	require.Equal(t, float64(42), api.params[0]["user_id"])
}

func TestCall_NonJSONErrorBody(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getMe": func(map[string]any) (int, string) { return http.StatusBadGateway, "<html>bad gateway</html>" },
	}}
	c := newTestClient(t, api)

	_, err := c.GetMe(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.HTTPStatusCode())
	require.Contains(t, apiErr.Description, "bad gateway")
}

func TestCall_TransportErrorDoesNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewClient(tokenGetter(), "/group-adder", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.GetMe(context.Background())
	require.Error(t, err)
	require.NotContains(t, err.Error(), testToken)
	require.Contains(t, err.Error(), redactedToken)
}

// ---------------------------------------------------------------------------
// Platform adapter
// ---------------------------------------------------------------------------

func TestResolveAccount(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getChat": func(p map[string]any) (int, string) {
			switch p["chat_id"] {
			case "@alice_1":
				return ok(`{"id":11,"type":"private","username":"alice_1"}`)
			case "@bobby_2":
				return ok(`{"id":22,"type":"private","username":"bobby_2"}`)
			case "@news_chan":
				return ok(`{"id":-1003,"type":"channel","title":"News"}`)
			default:
				return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
			}
		},
		"getChatMember": func(p map[string]any) (int, string) {
			if p["user_id"] == float64(22) {
				return ok(`{"status":"member","user":{"id":22,"is_bot":false,"first_name":"Bob"}}`)
			}
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: PARTICIPANT_ID_INVALID"}`
		},
	}}
	c := newTestClient(t, api)
	ctx := context.Background()

	acct, err := c.ResolveAccount(ctx, -100, "alice_1")
	require.NoError(t, err)
	require.Equal(t, domain.Account{ID: 11, Kind: domain.KindPrivate}, acct)

	acct, err = c.ResolveAccount(ctx, -100, "bobby_2")
	require.NoError(t, err)
	require.True(t, acct.InDestination)

	acct, err = c.ResolveAccount(ctx, -100, "news_chan")
	require.NoError(t, err)
	require.Equal(t, domain.KindChannel, acct.Kind)

	_, err = c.ResolveAccount(ctx, -100, "ghost_99")
	require.ErrorIs(t, err, domain.ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestGetMembershipStatus(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getChatMember": func(map[string]any) (int, string) {
			return ok(`{"status":"administrator","can_invite_users":true,"user":{"id":555,"is_bot":true,"first_name":"Adder"}}`)
		},
	}}
	c := newTestClient(t, api)

	m, err := c.GetMembershipStatus(context.Background(), -100, 555)
	require.NoError(t, err)
	require.Equal(t, domain.Membership{Role: domain.RoleAdministrator, CanAddMembers: true}, m)
	require.True(t, m.Elevated())
}

func TestGetChatMetadata(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getChat": func(p map[string]any) (int, string) {
			if p["chat_id"] == float64(-100123) {
				return ok(`{"id":-100123,"type":"supergroup","title":"Team"}`)
			}
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
		},
	}}
	c := newTestClient(t, api)

	d, err := c.GetChatMetadata(context.Background(), -100123)
	require.NoError(t, err)
	require.Equal(t, domain.Destination{ID: -100123, Title: "Team", Kind: domain.KindSupergroup}, d)

	_, err = c.GetChatMetadata(context.Background(), -1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownloadFile(t *testing.T) {
	api := &fakeBotAPI{
		routes: map[string]botRoute{
			"getFile": func(map[string]any) (int, string) { return ok(`{"file_id":"F1","file_path":"documents/users.txt"}`) },
		},
		files: map[string]string{"documents/users.txt": "alice_1\nbobby_2\n"},
	}
	c := newTestClient(t, api)

	content, err := c.DownloadFile(context.Background(), "F1")
	require.NoError(t, err)
	require.Equal(t, "alice_1\nbobby_2\n", string(content))
}

func TestGetUpdates_DecodesMessages(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getUpdates": func(p map[string]any) (int, string) {
			return ok(`[{"update_id":7,"message":{"message_id":1,"chat":{"id":99,"type":"private"},"text":"/start@adder_bot"}},
				{"update_id":8,"message":{"message_id":2,"chat":{"id":99,"type":"private"},"forward_origin":{"type":"channel","chat":{"id":-1005,"type":"channel","title":"News"}}}}]`)
		},
	}}
	c := newTestClient(t, api)

	updates, err := c.GetUpdates(context.Background(), 7, 25)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, "/start", updates[0].Message.Command())
	require.Equal(t, int64(-1005), updates[1].Message.ForwardedChat().ID)
	require.Equal(t, float64(7), api.params[0]["offset"])
	require.Equal(t, float64(25), api.params[0]["timeout"])
}

func TestMessageHelpers(t *testing.T) {
	require.Equal(t, "/cancel", (&Message{Text: "/cancel now"}).Command())
	require.Equal(t, "", (&Message{Text: "hello"}).Command())
	require.Nil(t, (&Message{}).ForwardedChat())

	legacy := &Message{ForwardFromChat: &Chat{ID: -42, Type: "supergroup"}}
	require.Equal(t, int64(-42), legacy.ForwardedChat().ID)

	fromGroup := &Message{ForwardOrigin: &MessageOrigin{Type: "chat", SenderChat: &Chat{ID: -43, Type: "group"}}}
	require.Equal(t, int64(-43), fromGroup.ForwardedChat().ID)
	require.Equal(t, domain.KindGroup, ChatKind(fromGroup.ForwardedChat().Type))
}

func TestChatKind(t *testing.T) {
	cases := map[string]domain.ChatKind{
		"private":    domain.KindPrivate,
		"group":      domain.KindGroup,
		"supergroup": domain.KindSupergroup,
		"channel":    domain.KindChannel,
		"bot":        domain.KindBot,
		"secret":     domain.KindUnknown,
	}
	for in, want := range cases {
		require.Equal(t, want, ChatKind(in), "type=%q", in)
	}
}

func TestResolveAccount_GatewayBotKind(t *testing.T) {
	api := &fakeBotAPI{routes: map[string]botRoute{
		"getChat": func(map[string]any) (int, string) { return ok(`{"id":33,"type":"bot","username":"helper_bot"}`) },
	}}
	c := newTestClient(t, api)

	acct, err := c.ResolveAccount(context.Background(), -100, "helper_bot")
	require.NoError(t, err)
	require.Equal(t, domain.Account{ID: 33, Kind: domain.KindBot}, acct)
	require.Equal(t, []string{"getChat"}, api.calls)
}
