package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"askgpt-backend/internal/config"
	"askgpt-backend/internal/metrics"
	"askgpt-backend/internal/model"
	"askgpt-backend/internal/remote"
	"askgpt-backend/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream is a fake chat-completion provider that records what it was asked.
type upstream struct {
	mu       sync.Mutex
	hits     int
	host     string
	path     string
	auth     string
	requests []openai.ChatCompletionRequest

	events []string
	status int
	body   string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	u.mu.Lock()
	u.hits++
	u.host = r.Host
	u.path = r.URL.Path
	u.auth = r.Header.Get("Authorization")
	u.requests = append(u.requests, req)
	u.mu.Unlock()

	if u.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.status)
		_, _ = io.WriteString(w, u.body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range u.events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
}

func (u *upstream) snapshot() (int, []openai.ChatCompletionRequest) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits, append([]openai.ChatCompletionRequest(nil), u.requests...)
}

func chunk(id, content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": content}}},
	})
	return string(data)
}

func helloEvents() []string {
	return []string{chunk("m1", "Hel"), chunk("m2", "lo"), "[DONE]"}
}

type fixture struct {
	svc      *ChatService
	records  storage.RecordStore
	upstream *upstream
	server   *httptest.Server
}

func newFixture(t *testing.T, u *upstream, accumulation string) *fixture {
	t.Helper()
	server := httptest.NewServer(u)
	t.Cleanup(server.Close)

	records := storage.NewMemoryStorage()
	require.NoError(t, records.Init())

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			BaseURL: server.URL,
			Host:    config.DefaultHost,
			Model:   config.DefaultModel,
			Timeout: 5 * time.Second,
		},
		Chat: config.ChatConfig{Accumulation: accumulation},
	}

	return &fixture{
		svc:      NewChatService(cfg, records, nil),
		records:  records,
		upstream: u,
		server:   server,
	}
}

// collector captures callback invocations.
type collector struct {
	responses []model.Response
	errs      []error
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnResponse: func(r model.Response) { c.responses = append(c.responses, r) },
		OnError:    func(err error) { c.errs = append(c.errs, err) },
	}
}

func TestAskEmptyQuestionIsNoop(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)

	for _, q := range []model.Question{
		{},
		{Question: "   ", Prompts: "\t"},
		{Question: "\n"},
	} {
		var c collector
		settings := model.Settings{APIKey: "sk-test"}
		got, err := f.svc.Ask(t.Context(), settings, q, c.callbacks())
		require.NoError(t, err)
		assert.Equal(t, settings, got)
		assert.Empty(t, c.responses)
		assert.Empty(t, c.errs)
	}

	hits, _ := f.upstream.snapshot()
	assert.Zero(t, hits)
}

func TestAskCumulativeWithContext(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)

	var c collector
	settings := model.Settings{APIKey: "sk-test", UseChatContext: true}
	got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	require.Empty(t, c.errs)

	require.Len(t, c.responses, 2)
	assert.Equal(t, "Hel", c.responses[0].Content)
	assert.Equal(t, "Hello", c.responses[1].Content)

	conv := got.ConversationRequest
	assert.NotEmpty(t, conv.ConversationID)
	assert.Equal(t, "m2", conv.ParentMessageID)
	assert.Equal(t, conv.ConversationID, c.responses[1].NewConversationID)

	records, err := f.records.GetMessages(conv.ConversationID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hi", records[0].Text)
	assert.False(t, records[0].Bot)
	assert.Equal(t, "Hello", records[1].Text)
	assert.True(t, records[1].Bot)
	assert.Equal(t, conv, records[0].ConversationOptions)
	assert.Equal(t, conv, records[1].ConversationOptions)

	f.upstream.mu.Lock()
	assert.Equal(t, "/v1/chat/completions", f.upstream.path)
	assert.Equal(t, "Bearer sk-test", f.upstream.auth)
	f.upstream.mu.Unlock()
}

func TestAskWithoutContextKeepsSettingsAndHistory(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)
	require.NoError(t, f.records.AddMessage("conv", &model.Record{Text: "old question"}))

	var c collector
	settings := model.Settings{
		APIKey:              "sk-test",
		UseChatContext:      false,
		ConversationRequest: model.ConversationRequest{ConversationID: "conv", ParentMessageID: "p"},
	}
	got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	assert.Equal(t, settings, got)

	_, reqs := f.upstream.snapshot()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "hi", reqs[0].Messages[0].Content)

	records, err := f.records.GetMessages("conv")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAskWithContextSendsHistoryInOrder(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)
	require.NoError(t, f.records.AddMessage("conv", &model.Record{Text: "q1"}))
	require.NoError(t, f.records.AddMessage("conv", &model.Record{Text: "a1", Bot: true}))

	var c collector
	settings := model.Settings{
		APIKey:              "sk-test",
		SystemMessage:       "be brief",
		UseChatContext:      true,
		ConversationRequest: model.ConversationRequest{ConversationID: "conv", ParentMessageID: "a1-id"},
	}
	got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "q2"}, c.callbacks())
	require.NoError(t, err)

	_, reqs := f.upstream.snapshot()
	require.Len(t, reqs, 1)
	var roles, contents []string
	for _, m := range reqs[0].Messages {
		roles = append(roles, m.Role)
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"user", "assistant", "system", "user"}, roles)
	assert.Equal(t, []string{"q1", "a1", "be brief", "q2"}, contents)
	assert.True(t, reqs[0].Stream)

	// 已有会话 id 沿用
	assert.Equal(t, model.ConversationRequest{ConversationID: "conv", ParentMessageID: "m2"}, got.ConversationRequest)
	records, err := f.records.GetMessages("conv")
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestAskQuestionIdentifiersOverrideSettings(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)

	var c collector
	settings := model.Settings{
		APIKey:              "sk-test",
		UseChatContext:      true,
		ConversationRequest: model.ConversationRequest{ConversationID: "from-settings", ParentMessageID: "p"},
	}
	got, err := f.svc.Ask(t.Context(), settings, model.Question{
		Question:        "hi",
		ConversationID:  "from-question",
		ParentMessageID: "q",
	}, c.callbacks())
	require.NoError(t, err)
	assert.Equal(t, "from-question", got.ConversationRequest.ConversationID)
}

func TestAskDoneTerminatesWithoutError(t *testing.T) {
	f := newFixture(t, &upstream{events: []string{"[DONE]", chunk("late", "never")}}, config.AccumulationCumulative)

	var c collector
	_, err := f.svc.Ask(t.Context(), model.Settings{APIKey: "sk"}, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	assert.Empty(t, c.errs)
	assert.Empty(t, c.responses)
}

func TestAskMalformedChunkFailsOnce(t *testing.T) {
	for _, mode := range []string{config.AccumulationCumulative, config.AccumulationDelta} {
		t.Run(mode, func(t *testing.T) {
			events := []string{chunk("m1", "ok"), "{not json", chunk("m2", "after"), "[DONE]"}
			f := newFixture(t, &upstream{events: events}, mode)

			var c collector
			settings := model.Settings{APIKey: "sk", UseChatContext: true}
			got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
			require.NoError(t, err)

			require.Len(t, c.errs, 1)
			assert.ErrorIs(t, c.errs[0], ErrMalformedChunk)
			assert.Len(t, c.responses, 1)
			assert.Equal(t, settings, got)

			summaries, err := f.records.ListConversations()
			require.NoError(t, err)
			assert.Empty(t, summaries)
		})
	}
}

func TestAskDeltaMode(t *testing.T) {
	f := newFixture(t, &upstream{events: []string{chunk("m0", ""), chunk("m1", "Hel"), chunk("m2", "lo"), "[DONE]"}}, config.AccumulationDelta)

	var c collector
	got, err := f.svc.Ask(t.Context(), model.Settings{APIKey: "sk", UseChatContext: true}, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)

	require.Len(t, c.responses, 2)
	assert.Equal(t, "Hel", c.responses[0].Content)
	assert.Equal(t, "lo", c.responses[1].Content)

	records, err := f.records.GetMessages(got.ConversationRequest.ConversationID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Hello", records[1].Text)
}

func TestAskUpstreamErrorStatus(t *testing.T) {
	u := &upstream{
		status: http.StatusUnauthorized,
		body:   `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`,
	}
	f := newFixture(t, u, config.AccumulationCumulative)

	var c collector
	_, err := f.svc.Ask(t.Context(), model.Settings{APIKey: "sk-bad"}, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)

	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ErrUpstreamStatus)
	assert.Contains(t, c.errs[0].Error(), "Incorrect API key provided")
	assert.Empty(t, c.responses)
}

func TestAskNetworkError(t *testing.T) {
	f := newFixture(t, &upstream{}, config.AccumulationCumulative)
	f.server.Close()

	var c collector
	_, err := f.svc.Ask(t.Context(), model.Settings{APIKey: "sk"}, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ErrNetwork)
}

func TestAskMissingKeyIsReturned(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)

	var c collector
	_, err := f.svc.Ask(t.Context(), model.Settings{}, model.Question{Question: "hi"}, c.callbacks())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Empty(t, c.errs)
	assert.Empty(t, c.responses)

	hits, _ := f.upstream.snapshot()
	assert.Zero(t, hits)
}

func TestAskUsesConfiguredKeyFallback(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)
	f.svc.provider.APIKey = "sk-configured"

	var c collector
	_, err := f.svc.Ask(t.Context(), model.Settings{}, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	assert.Len(t, c.responses, 2)

	f.upstream.mu.Lock()
	assert.Equal(t, "Bearer sk-configured", f.upstream.auth)
	f.upstream.mu.Unlock()
}

func TestAskThroughProxyOverridesHost(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)
	// 直连地址不可用，只能走代理
	f.svc.provider.BaseURL = "http://127.0.0.1:1"

	var c collector
	settings := model.Settings{APIKey: "sk", Proxy: f.server.URL + "/"}
	_, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	require.Empty(t, c.errs)

	f.upstream.mu.Lock()
	defer f.upstream.mu.Unlock()
	assert.Equal(t, "api.openai.com", f.upstream.host)
	assert.Equal(t, "/v1/chat/completions", f.upstream.path)
}

func TestAskProviderNeverUsesBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("backend should not be called")
	}))
	defer backend.Close()

	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)
	f.svc.backend = remote.NewClient(config.BackendConfig{BaseURL: backend.URL, Timeout: time.Second})

	_, err := f.svc.AskProvider(t.Context(), model.Settings{}, model.Question{Question: "hi"}, Callbacks{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func newBackend(t *testing.T, handler http.HandlerFunc) *remote.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return remote.NewClient(config.BackendConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
}

func TestAskFallsBackToBackendProcess(t *testing.T) {
	var received model.ProcessRequest
	var mu sync.Mutex
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat-process", r.URL.Path)
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&received)
		mu.Unlock()

		flusher := w.(http.Flusher)
		lines := []string{
			`{"status":"Success","id":"c9","parentMessageId":"p1","text":"He"}`,
			"\n" + `{"status":"Success","id":"c9","parentMessageId":"p2","text":"Hello"}`,
		}
		for _, line := range lines {
			_, _ = io.WriteString(w, line)
			flusher.Flush()
			time.Sleep(20 * time.Millisecond)
		}
	})

	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationCumulative)
	f.svc.backend = backend

	var c collector
	settings := model.Settings{
		SystemMessage:       "be brief",
		UseChatContext:      true,
		ConversationRequest: model.ConversationRequest{ConversationID: "c9", ParentMessageID: "p0"},
	}
	got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	require.Empty(t, c.errs)

	require.NotEmpty(t, c.responses)
	assert.Equal(t, "Hello", c.responses[len(c.responses)-1].Content)
	assert.Equal(t, model.ConversationRequest{ConversationID: "c9", ParentMessageID: "p2"}, got.ConversationRequest)

	mu.Lock()
	assert.Equal(t, "be brief.hi", received.Prompt)
	assert.Equal(t, "p0", received.Options.ParentMessageID)
	assert.True(t, received.UseContext)
	mu.Unlock()

	hits, _ := f.upstream.snapshot()
	assert.Zero(t, hits)

	// 后端路径不写记录
	summaries, err := f.records.ListConversations()
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestAskBackendFailure(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"Fail","message":"Unauthorized"}`)
	})

	f := newFixture(t, &upstream{}, config.AccumulationCumulative)
	f.svc.backend = backend

	var c collector
	settings := model.Settings{UseChatContext: true}
	got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ErrRequestFailed)
	assert.Contains(t, c.errs[0].Error(), "Unauthorized")
	assert.Equal(t, settings, got)
}

func TestAskBackendStatusError(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	f := newFixture(t, &upstream{}, config.AccumulationCumulative)
	f.svc.backend = backend

	var c collector
	_, err := f.svc.Ask(t.Context(), model.Settings{}, model.Question{Question: "hi"}, c.callbacks())
	require.NoError(t, err)
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ErrUpstreamStatus)
}

func TestRecordsLimit(t *testing.T) {
	f := newFixture(t, &upstream{}, config.AccumulationCumulative)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, f.records.AddMessage("conv", &model.Record{Text: text}))
	}

	all, err := f.svc.Records("conv", math.NaN())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	last, err := f.svc.Records("conv", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].Text)

	more, err := f.svc.Records("conv", 10)
	require.NoError(t, err)
	assert.Len(t, more, 3)
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t, &upstream{}, config.AccumulationCumulative)
	require.NoError(t, f.records.AddMessage("conv", &model.Record{Text: "a"}))

	require.NoError(t, f.svc.DeleteConversation("conv"))
	assert.ErrorIs(t, f.svc.DeleteConversation("conv"), storage.ErrConversationNotFound)
}

func TestChatConfig(t *testing.T) {
	f := newFixture(t, &upstream{}, config.AccumulationDelta)
	cfg := f.svc.ChatConfig()
	assert.Equal(t, config.DefaultModel, cfg.Model)
	assert.Equal(t, config.AccumulationDelta, cfg.Accumulation)
	assert.False(t, cfg.ProxyEnabled)
}

func TestCumulative(t *testing.T) {
	delta := newFixture(t, &upstream{}, config.AccumulationDelta)
	assert.False(t, delta.svc.Cumulative(model.Settings{APIKey: "sk-test"}))
	// 没有 key 时走后端，每次进度都是完整文本
	assert.True(t, delta.svc.Cumulative(model.Settings{}))

	cumulative := newFixture(t, &upstream{}, config.AccumulationCumulative)
	assert.True(t, cumulative.svc.Cumulative(model.Settings{APIKey: "sk-test"}))
}

func TestAskContentlessStreamAdvancesNothing(t *testing.T) {
	for _, accumulation := range []string{config.AccumulationCumulative, config.AccumulationDelta} {
		t.Run(accumulation, func(t *testing.T) {
			f := newFixture(t, &upstream{events: []string{chunk("m1", ""), chunk("m2", ""), "[DONE]"}}, accumulation)

			var c collector
			settings := model.Settings{APIKey: "sk", UseChatContext: true}
			got, err := f.svc.Ask(t.Context(), settings, model.Question{Question: "hi"}, c.callbacks())
			require.NoError(t, err)

			assert.Empty(t, c.responses)
			assert.Empty(t, c.errs)
			assert.Equal(t, settings, got)

			summaries, err := f.records.ListConversations()
			require.NoError(t, err)
			assert.Empty(t, summaries)
		})
	}
}

func TestNoopAskCountsUnderChosenPath(t *testing.T) {
	f := newFixture(t, &upstream{}, config.AccumulationCumulative)
	f.svc.backend = remote.NewClient(config.BackendConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	backendNoops := testutil.ToFloat64(metrics.AsksTotal.WithLabelValues(metrics.PathBackend, metrics.ResultNoop))
	providerNoops := testutil.ToFloat64(metrics.AsksTotal.WithLabelValues(metrics.PathProvider, metrics.ResultNoop))

	_, err := f.svc.Ask(t.Context(), model.Settings{}, model.Question{}, Callbacks{})
	require.NoError(t, err)
	_, err = f.svc.Ask(t.Context(), model.Settings{APIKey: "sk"}, model.Question{}, Callbacks{})
	require.NoError(t, err)

	assert.Equal(t, backendNoops+1, testutil.ToFloat64(metrics.AsksTotal.WithLabelValues(metrics.PathBackend, metrics.ResultNoop)))
	assert.Equal(t, providerNoops+1, testutil.ToFloat64(metrics.AsksTotal.WithLabelValues(metrics.PathProvider, metrics.ResultNoop)))
}

func TestAskStopsWhenCanceledMidStream(t *testing.T) {
	f := newFixture(t, &upstream{events: helloEvents()}, config.AccumulationDelta)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var c collector
	cb := c.callbacks()
	onResponse := cb.OnResponse
	cb.OnResponse = func(r model.Response) {
		onResponse(r)
		cancel()
	}

	settings := model.Settings{APIKey: "sk", UseChatContext: true}
	got, err := f.svc.Ask(ctx, settings, model.Question{Question: "hi"}, cb)
	require.NoError(t, err)

	assert.Len(t, c.responses, 1)
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], context.Canceled)
	assert.Equal(t, settings, got)

	summaries, err := f.records.ListConversations()
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
