package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aidesk/internal/compute"
	"aidesk/internal/erp"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	"aidesk/internal/protocol"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultUserID is recorded when an ask does not name its user.
const DefaultUserID = "demo-user"

const providerFailurePrefix = "Chat provider failed: "

// Exchange outcomes reported to metrics.
const (
	OutcomeAnswered = "answered"
	OutcomeRejected = "rejected"
	OutcomeDegraded = "provider_failed"
	OutcomeFailed   = "failed"
)

// Answerer produces a grounded answer for a question.
type Answerer interface {
	Chat(ctx context.Context, pc *erp.ProjectContext, question string) (*compute.ChatAnswer, error)
}

// TranscriptStore persists answered exchanges.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, t erp.Transcript) error
}

// Sink receives the outbound events of one exchange.
type Sink interface {
	Chunk(text string) error
	Done() error
	Fail(message string) error
}

// Envelope is the JSON document streamed as the answer.
type Envelope struct {
	Summary string       `json:"summary"`
	Used    compute.Used `json:"used"`
}

// Service answers chat questions and streams the answer through a Sink.
type Service struct {
	scope       ScopeClassifier
	contexts    erp.ContextSource
	answerer    Answerer
	transcripts TranscriptStore
	producer    *Producer
	metrics     *observability.Metrics
	logger      logging.Logger
}

// ServiceDeps groups the collaborators of a Service. Transcripts and Metrics are optional.
type ServiceDeps struct {
	Scope       ScopeClassifier
	Contexts    erp.ContextSource
	Answerer    Answerer
	Transcripts TranscriptStore
	Producer    *Producer
	Metrics     *observability.Metrics
	Logger      logging.Logger
}

// NewService wires a chat service.
func NewService(deps ServiceDeps) *Service {
	producer := deps.Producer
	if producer == nil {
		producer = NewProducer(DefaultChunkSize, DefaultChunkDelay)
	}
	return &Service{
		scope:       deps.Scope,
		contexts:    deps.Contexts,
		answerer:    deps.Answerer,
		transcripts: deps.Transcripts,
		producer:    producer,
		metrics:     deps.Metrics,
		logger:      logging.OrNop(deps.Logger),
	}
}

// Handle runs one exchange. The returned error is non-nil only when the sink
// itself failed, i.e. the connection is gone.
func (s *Service) Handle(ctx context.Context, ask protocol.AskPayload, sink Sink) error {
	ctx, span := observability.Tracer().Start(ctx, observability.SpanChatAnswer)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrProjectID, ask.ProjectID))

	question := strings.TrimSpace(ask.Question)
	if question == "" || (s.scope != nil && !s.scope.InScope(question)) {
		s.logger.Info("question out of scope for project %s", ask.ProjectID)
		s.metrics.ChatExchange(OutcomeRejected)
		if err := sink.Chunk(protocol.RejectionSentence); err != nil {
			return err
		}
		return sink.Done()
	}

	if ask.ProjectID == "" {
		s.metrics.ChatExchange(OutcomeFailed)
		return sink.Fail("projectId is required")
	}

	pc, err := s.contexts.ProjectContext(ctx, ask.ProjectID)
	if err != nil {
		s.logger.Error("loading context for project %s: %v", ask.ProjectID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "context unavailable")
		s.metrics.ChatExchange(OutcomeFailed)
		if errors.Is(err, erp.ErrProjectNotFound) {
			return sink.Fail(fmt.Sprintf("project not found: %s", ask.ProjectID))
		}
		return sink.Fail("Chat failed: " + err.Error())
	}

	outcome := OutcomeAnswered
	envelope := Envelope{Used: compute.Used{
		Products: []string{}, Providers: []string{}, InventoryIDs: []string{},
		ProviderProductIDs: []string{}, SaleIDs: []string{},
	}}
	answer, err := s.answerer.Chat(ctx, pc, question)
	if err != nil {
		s.logger.Warn("chat provider failed for project %s: %v", ask.ProjectID, err)
		span.RecordError(err)
		outcome = OutcomeDegraded
		envelope.Summary = providerFailurePrefix + err.Error()
	} else {
		envelope.Summary = answer.Answer
		envelope.Used = answer.Used
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		s.metrics.ChatExchange(OutcomeFailed)
		return sink.Fail("Chat failed: " + err.Error())
	}

	sent, err := s.producer.Emit(ctx, string(data), sink.Chunk)
	s.metrics.ChunksSent(sent)
	span.SetAttributes(attribute.Int(observability.AttrChunks, sent))
	if err != nil {
		s.metrics.ChatExchange(OutcomeFailed)
		return err
	}
	if err := sink.Done(); err != nil {
		return err
	}
	s.metrics.ChatExchange(outcome)

	if outcome == OutcomeAnswered {
		s.saveTranscript(ctx, ask, question, envelope.Summary)
	}
	return nil
}

func (s *Service) saveTranscript(ctx context.Context, ask protocol.AskPayload, question, answer string) {
	if s.transcripts == nil {
		return
	}
	userID := ask.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	err := s.transcripts.SaveTranscript(ctx, erp.Transcript{
		ProjectID: ask.ProjectID,
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("transcript not saved: %v", err)
	}
}
