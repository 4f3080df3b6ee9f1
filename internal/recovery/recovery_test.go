package recovery

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/assistant/assistanttest"
	"github.com/flemzord/convoq/internal/runner"
	"github.com/flemzord/convoq/internal/tool"
)

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func TestSummarize_LastThreeExchanges(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Role: "user", Content: "q1", CreatedAt: at(1)},
		{Role: "assistant", Content: "a1", CreatedAt: at(2)},
		{Role: "user", Content: "q2", CreatedAt: at(3)},
		{Role: "system", Content: "error", CreatedAt: at(4)},
		{Role: "user", Content: "q3", CreatedAt: at(5)},
		{Role: "assistant", Content: "a3", CreatedAt: at(6)},
		{Role: "user", Content: "q4", CreatedAt: at(7)},
		{Role: "assistant", Content: "a4", CreatedAt: at(8)},
		{Role: "user", Content: "q5", CreatedAt: at(9)},
		{Role: "assistant", Content: "a5", CreatedAt: at(10)},
		{Role: "user", Content: "q6 unanswered", CreatedAt: at(11)},
	}

	s := Summarize(msgs)
	want := []Exchange{{"q3", "a3"}, {"q4", "a4"}, {"q5", "a5"}}
	if !reflect.DeepEqual(s.Exchanges, want) {
		t.Fatalf("Exchanges = %v, want %v", s.Exchanges, want)
	}
	if !strings.Contains(s.Text, "User: q5\nAssistant: a5") {
		t.Errorf("summary text missing the last exchange:\n%s", s.Text)
	}
}

func TestSummarize_ReplyMustFollowQuestion(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Role: "user", Content: "q1", CreatedAt: at(5)},
		{Role: "assistant", Content: "same instant", CreatedAt: at(5)},
		{Role: "assistant", Content: "later", CreatedAt: at(6)},
	}
	s := Summarize(msgs)
	if len(s.Exchanges) != 1 || s.Exchanges[0].Assistant != "later" {
		t.Fatalf("Exchanges = %v", s.Exchanges)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil)
	if s.Text == "" {
		t.Fatal("summary text must never be empty")
	}
	if len(s.Exchanges) != 0 || len(s.Topics) != 0 {
		t.Errorf("unexpected content: %+v", s)
	}
}

func TestKeywords(t *testing.T) {
	t.Parallel()

	texts := []string{
		"Which movies did Nolan direct? Show me the movies.",
		"What about actors in those movies, and the Nolan films after 2010?",
		"List actors with awards",
	}
	got := Keywords(texts, 10)
	want := []string{"movies", "actors", "nolan", "2010", "awards", "direct", "films"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}

	if top := Keywords(texts, 2); !reflect.DeepEqual(top, []string{"movies", "actors"}) {
		t.Errorf("Keywords(n=2) = %v", top)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	old, _ := fake.CreateThread(context.Background())
	fake.Enqueue(assistanttest.Reply("Understood."))

	r := runner.New(fake, tool.NewRegistry(), runner.Config{PollInterval: time.Millisecond})
	rc := New(fake, r, nil, nil)

	out, err := rc.Recover(context.Background(), Input{
		ConversationID: "conv-1",
		ThreadID:       old.ID,
		Messages: []Message{
			{Role: "user", Content: "graph databases please", CreatedAt: at(1)},
			{Role: "assistant", Content: "Sure.", CreatedAt: at(2)},
		},
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.OldThreadID != old.ID || out.NewThreadID == "" || out.NewThreadID == old.ID {
		t.Fatalf("outcome = %+v", out)
	}
	if !out.Acknowledged {
		t.Error("expected the summary to be acknowledged")
	}

	seeded := fake.Messages(out.NewThreadID)
	if len(seeded) != 2 {
		t.Fatalf("new thread has %d messages, want summary + ack", len(seeded))
	}
	if seeded[0].Role != assistant.RoleUser || seeded[0].Content != out.Summary.Text {
		t.Errorf("first message is not the summary: %+v", seeded[0])
	}
	if !strings.Contains(out.Summary.Text, "graph") {
		t.Errorf("summary lacks topics:\n%s", out.Summary.Text)
	}
}

func TestRecover_AcknowledgementFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.Enqueue(assistanttest.Fail("server_error", "boom"))
	r := runner.New(fake, tool.NewRegistry(), runner.Config{PollInterval: time.Millisecond})

	out, err := New(fake, r, nil, nil).Recover(context.Background(), Input{ThreadID: "thread_old"})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if out.Acknowledged || out.NewThreadID == "" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRecover_CreateThreadFails(t *testing.T) {
	t.Parallel()

	fake := assistanttest.New()
	fake.CreateThreadErr = assistant.ErrProviderDown
	r := runner.New(fake, tool.NewRegistry(), runner.Config{PollInterval: time.Millisecond})

	out, err := New(fake, r, nil, nil).Recover(context.Background(), Input{ThreadID: "thread_old"})
	if !errors.Is(err, ErrRecoveryFailed) || !errors.Is(err, assistant.ErrProviderDown) {
		t.Fatalf("err = %v", err)
	}
	if out.NewThreadID != "" || out.OldThreadID != "thread_old" {
		t.Errorf("outcome = %+v", out)
	}
}
