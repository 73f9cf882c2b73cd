package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"askgpt-backend/internal/compose"
	"askgpt-backend/internal/config"
	"askgpt-backend/internal/metrics"
	"askgpt-backend/internal/model"
	"askgpt-backend/internal/remote"
	"askgpt-backend/internal/storage"
	"askgpt-backend/internal/stream"
	"askgpt-backend/internal/transport"
	"askgpt-backend/pkg/logger"

	"github.com/google/uuid"
)

// Callbacks receive the progress of one Ask. OnError fires at most once and ends the ask.
type Callbacks struct {
	OnResponse func(model.Response)
	OnError    func(error)
}

type ChatService struct {
	records  storage.RecordStore
	composer *compose.Composer
	backend  *remote.Client
	provider config.ProviderConfig
	chat     config.ChatConfig
}

// NewChatService wires the service. backend may be nil, in which case asks without an API
// key fail with ErrMissingAPIKey.
func NewChatService(cfg *config.Config, records storage.RecordStore, backend *remote.Client) *ChatService {
	return &ChatService{
		records:  records,
		composer: compose.New(records, cfg.Provider.Model),
		backend:  backend,
		provider: cfg.Provider,
		chat:     cfg.Chat,
	}
}

type ask struct {
	input    compose.Input
	proxy    string
	settings model.Settings
}

func (s *ChatService) prepare(settings model.Settings, q model.Question) (ask, bool) {
	prompt := q.Prompts
	if strings.TrimSpace(prompt) == "" {
		prompt = settings.SystemMessage
	}
	question, prompt, ok := compose.Normalize(q.Question, prompt)
	if !ok {
		return ask{}, false
	}

	apiKey := s.resolveKey(settings)
	proxy := strings.TrimSpace(settings.Proxy)
	if proxy == "" {
		proxy = s.provider.Proxy
	}

	in := compose.Input{
		Question:   question,
		Prompt:     prompt,
		APIKey:     apiKey,
		UseContext: settings.UseChatContext,
	}
	if in.UseContext {
		in.Conversation = settings.ConversationRequest
		if q.ConversationID != "" {
			in.Conversation = q.Conversation()
		}
	}

	return ask{input: in, proxy: proxy, settings: settings}, true
}

// Ask sends one question and streams the answer to cb. It returns the settings snapshot to
// keep: the input with the conversation identifiers advanced after a successful exchange
// with context enabled. The only error returned directly is ErrMissingAPIKey; every other
// failure goes to cb.OnError.
func (s *ChatService) Ask(ctx context.Context, settings model.Settings, q model.Question, cb Callbacks) (model.Settings, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, ok := s.prepare(settings, q)
	if !ok {
		metrics.AsksTotal.WithLabelValues(s.pathFor(settings), metrics.ResultNoop).Inc()
		return settings, nil
	}

	if a.input.APIKey != "" {
		return s.askProvider(ctx, a, cb), nil
	}
	if s.backend != nil {
		return s.askBackend(ctx, a, cb), nil
	}

	metrics.ErrorsTotal.WithLabelValues(errorKind(ErrMissingAPIKey)).Inc()
	return settings, ErrMissingAPIKey
}

// pathFor names the path an Ask with these settings takes.
func (s *ChatService) pathFor(settings model.Settings) string {
	if s.resolveKey(settings) == "" && s.backend != nil {
		return metrics.PathBackend
	}
	return metrics.PathProvider
}

// AskProvider is Ask restricted to the provider path: without a key it returns
// ErrMissingAPIKey instead of falling back to the backend.
func (s *ChatService) AskProvider(ctx context.Context, settings model.Settings, q model.Question, cb Callbacks) (model.Settings, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, ok := s.prepare(settings, q)
	if !ok {
		metrics.AsksTotal.WithLabelValues(metrics.PathProvider, metrics.ResultNoop).Inc()
		return settings, nil
	}
	if a.input.APIKey == "" {
		metrics.ErrorsTotal.WithLabelValues(errorKind(ErrMissingAPIKey)).Inc()
		return settings, ErrMissingAPIKey
	}

	return s.askProvider(ctx, a, cb), nil
}

func (s *ChatService) askProvider(ctx context.Context, a ask, cb Callbacks) model.Settings {
	endpoint := transport.Resolve(a.proxy, s.provider)
	client := transport.NewClient(endpoint, a.input.APIKey, s.provider)

	req, err := s.composer.Compose(a.input)
	if err != nil {
		s.fail(metrics.PathProvider, cb, err)
		return a.settings
	}

	chatID := a.input.Conversation.ConversationID
	if chatID == "" {
		chatID = uuid.New().String()
	}

	logger.Debugf("Asking %s (proxied=%v, model=%s, messages=%d)", endpoint.URL, endpoint.Proxied, req.Model, len(req.Messages))

	upstream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		s.fail(metrics.PathProvider, cb, classify(err))
		return a.settings
	}

	var reader stream.Reader = stream.NewSSEReducer(upstream, chatID)
	variant := stream.VariantSSE
	cumulative := s.chat.Accumulation != config.AccumulationDelta
	if cumulative {
		reader = stream.NewDirectConsumer(stream.Encode(reader))
		variant = stream.VariantDirect
	}
	defer reader.Close()

	var text strings.Builder
	var latest model.ConversationRequest
	for {
		// 已缓冲的数据不受取消影响，需主动检查
		if err := ctx.Err(); err != nil {
			s.fail(metrics.PathProvider, cb, err)
			return a.settings
		}
		resp, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(metrics.PathProvider, cb, classify(err))
			return a.settings
		}

		// 空内容的块不推进会话，与累计模式一致
		if resp.Content == "" {
			continue
		}
		latest = latest.Advance(resp.Conversation())
		if cumulative {
			text.Reset()
		}
		text.WriteString(resp.Content)

		metrics.ChunksTotal.WithLabelValues(variant).Inc()
		if cb.OnResponse != nil {
			cb.OnResponse(resp)
		}
	}

	next := a.settings
	if a.input.UseContext && latest.Complete() {
		next.ConversationRequest = latest
		if err := s.appendExchange(a.input.Question, text.String(), latest); err != nil {
			s.fail(metrics.PathProvider, cb, err)
			return next
		}
	}

	metrics.AsksTotal.WithLabelValues(metrics.PathProvider, metrics.ResultSuccess).Inc()
	return next
}

func (s *ChatService) askBackend(ctx context.Context, a ask, cb Callbacks) model.Settings {
	req := compose.Process(a.input)
	req.UserProxy = strings.TrimSpace(a.settings.Proxy)

	body, err := s.backend.ChatProcess(ctx, req)
	if err != nil {
		s.fail(metrics.PathBackend, cb, classify(err))
		return a.settings
	}

	poller := stream.NewProgressPoller(body)
	defer poller.Close()

	for {
		if err := ctx.Err(); err != nil {
			s.fail(metrics.PathBackend, cb, err)
			return a.settings
		}
		resp, err := poller.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(metrics.PathBackend, cb, classify(err))
			return a.settings
		}

		metrics.ChunksTotal.WithLabelValues(stream.VariantProgress).Inc()
		if cb.OnResponse != nil {
			cb.OnResponse(resp)
		}
	}

	next := a.settings
	if a.input.UseContext {
		next.ConversationRequest = next.ConversationRequest.Advance(poller.Conversation())
	}

	metrics.AsksTotal.WithLabelValues(metrics.PathBackend, metrics.ResultSuccess).Inc()
	return next
}

// appendExchange stores the user turn and the assembled answer under the new conversation id.
func (s *ChatService) appendExchange(question, answer string, conv model.ConversationRequest) error {
	now := time.Now()
	turns := []*model.Record{
		{DateTime: now, Text: question, Bot: false, ConversationOptions: conv},
		{DateTime: now, Text: answer, Bot: true, ConversationOptions: conv},
	}
	for _, record := range turns {
		if err := s.records.AddMessage(conv.ConversationID, record); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistRecords, err)
		}
		metrics.RecordsAppended.Inc()
	}
	return nil
}

func (s *ChatService) fail(path string, cb Callbacks, err error) {
	kind := errorKind(err)
	metrics.AsksTotal.WithLabelValues(path, metrics.ResultError).Inc()
	metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	logger.Warnf("Ask failed on %s path (%s): %v", path, kind, err)

	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// Records returns the stored turns of a conversation. A limit that is NaN or not positive
// returns everything; otherwise only the newest limit turns.
func (s *ChatService) Records(conversationID string, limit float64) ([]model.Record, error) {
	records, err := s.records.GetMessages(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	if !math.IsNaN(limit) && limit > 0 && int(limit) < len(records) {
		records = records[len(records)-int(limit):]
	}

	result := make([]model.Record, len(records))
	for i, record := range records {
		result[i] = *record
	}
	return result, nil
}

func (s *ChatService) Conversations() ([]*model.ConversationSummary, error) {
	summaries, err := s.records.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return summaries, nil
}

func (s *ChatService) DeleteConversation(conversationID string) error {
	if err := s.records.DeleteConversation(conversationID); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return fmt.Errorf("conversation not found: %s: %w", conversationID, err)
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Cumulative reports whether the responses of an Ask with these settings carry the whole
// text so far. Only the provider path in delta mode hands out bare deltas; backend ticks
// always carry the text so far.
func (s *ChatService) Cumulative(settings model.Settings) bool {
	if s.resolveKey(settings) == "" {
		return true
	}
	return s.chat.Accumulation != config.AccumulationDelta
}

func (s *ChatService) resolveKey(settings model.Settings) string {
	if apiKey := strings.TrimSpace(settings.APIKey); apiKey != "" {
		return apiKey
	}
	return s.provider.APIKey
}

// ChatConfig describes what this service is configured to do, for the /config endpoint.
func (s *ChatService) ChatConfig() model.ChatConfig {
	return model.ChatConfig{
		Model:        s.composer.Model(),
		ProxyEnabled: s.provider.Proxy != "",
		UseContext:   s.chat.UseContext,
		Accumulation: s.chat.Accumulation,
	}
}
