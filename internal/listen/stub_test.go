package listen

import (
	"context"
	"errors"

	"github.com/earshot-labs/earshot/internal/convo"
	"github.com/earshot-labs/earshot/internal/llm"
)

// stubProvider is a canned-response llm.Provider.
type stubProvider struct {
	reply   string
	err     error
	calls   int
	lastReq llm.CompletionRequest
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Content: p.reply, Model: "stub"}, nil
}

// stubConvos is an in-memory convo.Manager.
type stubConvos struct {
	current map[string]string
	stored  map[string]*convo.Conversation // origin + "\x00" + id
	currErr error
	convErr error
	saved   []string
}

func newStubConvos() *stubConvos {
	return &stubConvos{
		current: make(map[string]string),
		stored:  make(map[string]*convo.Conversation),
	}
}

func (s *stubConvos) put(origin, id, history string) {
	s.stored[origin+"\x00"+id] = &convo.Conversation{ID: id, Origin: origin, History: history}
}

func (s *stubConvos) CurrentConversationID(_ context.Context, origin string) (string, error) {
	if s.currErr != nil {
		return "", s.currErr
	}
	return s.current[origin], nil
}

func (s *stubConvos) Conversation(_ context.Context, origin, id string) (*convo.Conversation, error) {
	if s.convErr != nil {
		return nil, s.convErr
	}
	return s.stored[origin+"\x00"+id], nil
}

func (s *stubConvos) SaveConversation(_ context.Context, origin, id, history string) error {
	s.put(origin, id, history)
	s.saved = append(s.saved, id)
	return nil
}

func (s *stubConvos) SetCurrent(_ context.Context, origin, id string) error {
	s.current[origin] = id
	return nil
}

func (s *stubConvos) Close() error { return nil }

// stubSink records escalations.
type stubSink struct {
	reqs []EscalationRequest
	err  error
}

func (s *stubSink) Escalate(_ context.Context, req EscalationRequest) error {
	if s.err != nil {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

var errBoom = errors.New("boom")
