package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/mohammad-safakhou/orderdesk/internal/store"
	"github.com/mohammad-safakhou/orderdesk/internal/triage"
)

func TestCancelConfirmFlow(t *testing.T) {
	h := newHarness(t, Settings{})

	first := h.send(t, "c1", "please cancel order 7845")
	if !first.AwaitingConfirmation || first.Status != conversation.StatusAwaitingConfirmation {
		t.Fatalf("expected confirmation prompt, got %+v", first)
	}
	if !strings.Contains(first.Reply, "Are you sure") || !strings.Contains(first.Reply, "7845") {
		t.Fatalf("unexpected prompt %q", first.Reply)
	}
	if len(first.Buttons) != 2 {
		t.Fatalf("expected confirmation buttons, got %v", first.Buttons)
	}
	if first.PendingAction != conversation.IntentCancel {
		t.Fatalf("expected pending cancel, got %q", first.PendingAction)
	}
	if len(h.resolution.Calls()) != 0 {
		t.Fatal("resolution must not run before confirmation")
	}

	second := h.send(t, "c1", "yes")
	if second.Status != conversation.StatusCompleted || second.AwaitingConfirmation {
		t.Fatalf("expected completion, got %+v", second)
	}
	if !strings.Contains(second.Reply, "processed") {
		t.Fatalf("unexpected reply %q", second.Reply)
	}
	if len(second.AgentsCalled) != 1 || second.AgentsCalled[0] != StepResolution {
		t.Fatalf("expected only resolution, got %v", second.AgentsCalled)
	}
	if h.orders.Lookups() != 1 {
		t.Fatalf("confirmation must reuse the stored order, lookups=%d", h.orders.Lookups())
	}
	if len(h.advancer.calls) != 1 || h.advancer.calls[0] != "7845:cancel" {
		t.Fatalf("expected crm update, got %v", h.advancer.calls)
	}

	s, err := h.engine.State(context.Background(), "c1")
	if err != nil || s == nil {
		t.Fatalf("State: %v", err)
	}
	if s.Entities.PendingIntent != "" || s.Entities.ConfirmationStatus != "" {
		t.Fatalf("pending fields not cleared: %+v", s.Entities)
	}
	if s.TotalInvocations() != 5 || s.StepInvocationCounts[StepResolution] != 2 {
		t.Fatalf("expected 5 invocations with resolution counted twice, got %v", s.StepInvocationCounts)
	}
}

func TestSmallTalkAnswersPendingConfirmation(t *testing.T) {
	for _, reply := range []string{"yes thanks", "ok thank you", "hi, yes please proceed"} {
		h := newHarness(t, Settings{})
		h.rules = triage.New()
		h.build(t, Settings{})

		first := h.send(t, "c1", "cancel order 7845")
		if !first.AwaitingConfirmation {
			t.Fatalf("expected confirmation prompt, got %+v", first)
		}
		resp := h.send(t, "c1", reply)
		if resp.Status != conversation.StatusCompleted || resp.AwaitingConfirmation {
			t.Fatalf("%q: expected the cancel to run, got %+v", reply, resp)
		}
		if !strings.Contains(resp.Reply, "cancellation for order #7845") {
			t.Fatalf("%q: unexpected reply %q", reply, resp.Reply)
		}
		if calls := h.resolution.Calls(); len(calls) != 1 || calls[0] != "cancel:7845" {
			t.Fatalf("%q: expected one resolution, got %v", reply, calls)
		}
	}
}

func TestSmallTalkAnswersOrderIDPrompt(t *testing.T) {
	h := newHarness(t, Settings{})
	h.rules = triage.New()
	h.build(t, Settings{})

	first := h.send(t, "c1", "track my order")
	if !first.AwaitingOrderID {
		t.Fatalf("expected order id prompt, got %+v", first)
	}
	resp := h.send(t, "c1", "hi, it's 7847")
	if resp.AwaitingOrderID || resp.OrderID != "7847" || resp.Intent != conversation.IntentOrderTracking {
		t.Fatalf("expected tracking for 7847, got %+v", resp)
	}
}

func TestPolicyQuestionKeepsPauseStatus(t *testing.T) {
	h := newHarness(t, Settings{})
	h.rules = triage.New()
	h.build(t, Settings{})

	h.send(t, "c1", "cancel order 7845")
	info := h.send(t, "c1", "how many days do i have to send things back?")
	if info.Status != conversation.StatusAwaitingConfirmation || info.Phase != conversation.PhaseAwaitingConfirmation {
		t.Fatalf("pause status lost: %+v", info)
	}
	if !info.AwaitingConfirmation || len(info.Buttons) != 2 {
		t.Fatalf("expected buttons to stay, got %+v", info)
	}

	h.send(t, "c2", "track my order")
	typed := h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c2", Message: "confirm", Confirmation: "confirm"})
	if typed.Reply != replyNothingPending || typed.Status != conversation.StatusAwaitingInput || !typed.AwaitingOrderID {
		t.Fatalf("expected the order id prompt to stay open, got %+v", typed)
	}
}

func TestDeclineDoesNotResolve(t *testing.T) {
	h := newHarness(t, Settings{})
	h.send(t, "c1", "cancel order 7845")
	resp := h.send(t, "c1", "no, don't do that")
	if resp.Status != conversation.StatusCompleted || resp.AwaitingConfirmation {
		t.Fatalf("expected completed decline, got %+v", resp)
	}
	if !strings.Contains(resp.Reply, "nothing was changed") {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}
	if len(h.resolution.Calls()) != 0 || len(h.advancer.calls) != 0 {
		t.Fatal("decline must not resolve or touch the crm")
	}
}

func TestTypedConfirmation(t *testing.T) {
	h := newHarness(t, Settings{})
	h.send(t, "c1", "cancel order 7845")
	resp := h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c1", Message: "Yes, proceed", Confirmation: "confirm"})
	if resp.Status != conversation.StatusCompleted || !strings.Contains(resp.Reply, "processed") {
		t.Fatalf("expected typed confirm to resolve, got %+v", resp)
	}

	h.send(t, "c2", "cancel order 7845")
	resp = h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c2", Message: "yes please", Confirmation: "decline"})
	if !strings.Contains(resp.Reply, "nothing was changed") {
		t.Fatalf("typed decline must win over text, got %q", resp.Reply)
	}
}

func TestConfirmRejectsWithoutTouchingState(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	if _, err := h.engine.Confirm(ctx, "missing", "", DecisionConfirm); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if s, _ := h.engine.State(ctx, "missing"); s != nil {
		t.Fatalf("rejected confirm must not create state, got %+v", s)
	}

	h.send(t, "c1", "cancel order 7845")
	h.send(t, "c1", "no")
	before, _ := h.engine.History(ctx, "c1")
	if _, err := h.engine.Confirm(ctx, "c1", "", DecisionConfirm); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("expected ErrNothingPending, got %v", err)
	}
	after, _ := h.engine.History(ctx, "c1")
	if len(after) != len(before) || len(h.resolution.Calls()) != 0 {
		t.Fatalf("rejected confirm must not run a turn: history %d -> %d", len(before), len(after))
	}

	h.send(t, "c2", "cancel order 7845")
	resp, err := h.engine.Confirm(ctx, "c2", "", DecisionConfirm)
	if err != nil || resp.Status != conversation.StatusCompleted || !strings.Contains(resp.Reply, "processed") {
		t.Fatalf("expected confirmed cancel, got %+v (%v)", resp, err)
	}
}

func TestTypedConfirmationWithNothingPending(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c1", Message: "confirm", Confirmation: "confirm"})
	if resp.Reply != replyNothingPending || resp.Status != conversation.StatusCompleted {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(h.resolution.Calls()) != 0 {
		t.Fatal("nothing should be resolved")
	}
}

func TestGreetingSkipsPipeline(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.send(t, "c1", "hello there")
	if resp.Status != conversation.StatusCompleted || resp.Intent != conversation.IntentGreeting {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.AgentsCalled) != 0 || h.orders.Lookups() != 0 {
		t.Fatalf("greeting must not run steps: agents=%v lookups=%d", resp.AgentsCalled, h.orders.Lookups())
	}
}

func TestInformationalKeepsPendingConfirmation(t *testing.T) {
	h := newHarness(t, Settings{})
	h.send(t, "c1", "cancel order 7845")
	info := h.send(t, "c1", "what is your policy on returns?")
	if !strings.Contains(info.Reply, "30 days") {
		t.Fatalf("unexpected informational reply %q", info.Reply)
	}
	if !info.AwaitingConfirmation || info.PendingAction != conversation.IntentCancel {
		t.Fatalf("pending confirmation lost: %+v", info)
	}
	done := h.send(t, "c1", "yes")
	if done.Status != conversation.StatusCompleted || !strings.Contains(done.Reply, "processed") {
		t.Fatalf("expected resolution after confirm, got %+v", done)
	}
}

func TestHandoffIsAbsorbing(t *testing.T) {
	h := newHarness(t, Settings{})
	first := h.send(t, "c1", "asdf qwerty")
	if first.Status != conversation.StatusHandoff || first.Reply != replyUnknownIntent {
		t.Fatalf("expected unknown intent handoff, got %+v", first)
	}
	if ev := h.publisher.Events(); len(ev) != 1 || ev[0].Reason != "handoff" {
		t.Fatalf("expected one handoff event, got %+v", ev)
	}

	calls := h.classifier.Calls()
	next := h.send(t, "c1", "cancel order 7845")
	if next.Status != conversation.StatusHandoff || next.Reply != replyWithHuman {
		t.Fatalf("expected absorbed turn, got %+v", next)
	}
	if h.classifier.Calls() != calls {
		t.Fatal("classifier must not run once handed off")
	}
	if len(h.publisher.Events()) != 1 {
		t.Fatal("handoff must be published once")
	}
}

func TestMissingOrderIDContinuation(t *testing.T) {
	h := newHarness(t, Settings{})
	first := h.send(t, "c1", "track my order")
	if !first.AwaitingOrderID || first.Status != conversation.StatusAwaitingInput {
		t.Fatalf("expected order id prompt, got %+v", first)
	}
	lower := strings.ToLower(first.Reply)
	if !strings.Contains(lower, "order") || !strings.Contains(lower, "id") {
		t.Fatalf("prompt should ask for the order id: %q", first.Reply)
	}

	second := h.send(t, "c1", "7845")
	if second.Status != conversation.StatusCompleted || second.Intent != conversation.IntentOrderTracking {
		t.Fatalf("expected tracking answer, got %+v", second)
	}
	if second.OrderID != "7845" || !strings.Contains(second.Reply, "Processing") {
		t.Fatalf("unexpected answer %+v", second)
	}
	want := []string{StepOrderResolution, StepPolicyCheck, StepResolution}
	if strings.Join(second.AgentsCalled, ",") != strings.Join(want, ",") {
		t.Fatalf("continuation should resume at data fetch, got %v", second.AgentsCalled)
	}
}

func TestStillNeedOrderID(t *testing.T) {
	h := newHarness(t, Settings{})
	h.send(t, "c1", "track my order")
	resp := h.send(t, "c1", "I do not have it")
	if resp.Reply != replyStillNeedOrderID || !resp.AwaitingOrderID {
		t.Fatalf("expected re-prompt, got %+v", resp)
	}
}

func TestOrderNotFoundReprompts(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.send(t, "c1", "track order 9999")
	if !resp.AwaitingOrderID || !strings.Contains(resp.Reply, "9999") {
		t.Fatalf("expected not-found prompt, got %+v", resp)
	}
	if resp.OrderID != "" {
		t.Fatalf("unknown id must be dropped, got %q", resp.OrderID)
	}
	next := h.send(t, "c1", "sorry, it is 7847")
	if next.Status != conversation.StatusCompleted || next.OrderID != "7847" {
		t.Fatalf("expected recovery with 7847, got %+v", next)
	}
}

func TestDisambiguationByProduct(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	first := h.engine.Handle(ctx, TurnRequest{ConversationID: "c1", Message: "cancel my shoes", Identity: "alex@example.com"})
	if !first.AwaitingOrderID {
		t.Fatalf("expected a choice, got %+v", first)
	}
	if !strings.Contains(first.Reply, "#7845") || !strings.Contains(first.Reply, "#7848") || strings.Contains(first.Reply, "#7847") {
		t.Fatalf("unexpected choices %q", first.Reply)
	}
	if len(first.AgentsCalled) != 0 {
		t.Fatalf("no step should run while choosing, got %v", first.AgentsCalled)
	}

	second := h.engine.Handle(ctx, TurnRequest{ConversationID: "c1", Message: "the nike ones", Identity: "alex@example.com"})
	if !second.AwaitingConfirmation || second.OrderID != "7845" {
		t.Fatalf("expected confirmation for 7845, got %+v", second)
	}
}

func TestSingleProductMatchAdopted(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c1", Message: "cancel the jacket", Identity: "alex@example.com"})
	if resp.OrderID != "7847" {
		t.Fatalf("expected jacket order, got %+v", resp)
	}
	s, _ := h.engine.State(context.Background(), "c1")
	if !strings.Contains(s.UserMessage, "#7847") {
		t.Fatalf("message should be annotated, got %q", s.UserMessage)
	}
}

func TestSingleOrderAdopted(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c1", Message: "refund please", Identity: "sam@example.com"})
	if !resp.AwaitingConfirmation || resp.OrderID != "7846" {
		t.Fatalf("expected sam's only order, got %+v", resp)
	}
}

func TestZeroMatchFallsThrough(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c1", Message: "cancel my order", Identity: "robin@example.com"})
	if resp.Reply != replyAskOrderID {
		t.Fatalf("expected plain order id prompt, got %q", resp.Reply)
	}

	h = newHarness(t, Settings{EnumerateAllOrders: true})
	resp = h.engine.Handle(context.Background(), TurnRequest{ConversationID: "c1", Message: "cancel my order", Identity: "robin@example.com"})
	if !resp.AwaitingOrderID || !strings.Contains(resp.Reply, "#7845") || !strings.Contains(resp.Reply, "#7847") {
		t.Fatalf("expected every order enumerated, got %q", resp.Reply)
	}
}

func TestInvocationBudgetEscalates(t *testing.T) {
	h := newHarness(t, Settings{})
	first := h.send(t, "c1", "track order 7845")
	if first.Status != conversation.StatusCompleted {
		t.Fatalf("first request should complete, got %+v", first)
	}
	second := h.send(t, "c1", "track order 7847")
	if second.Status != conversation.StatusHandoff {
		t.Fatalf("expected escalation, got %+v", second)
	}
	if !strings.HasPrefix(second.Reply, "Order #7847") || !strings.HasSuffix(second.Reply, replyFollowUp) {
		t.Fatalf("completed answer should be kept with a follow-up, got %q", second.Reply)
	}
	ev := h.publisher.Events()
	if len(ev) != 1 || ev[0].Reason != "invocation_budget" || ev[0].ConversationID != "c1" {
		t.Fatalf("unexpected events %+v", ev)
	}
}

func TestPolicyErrorHandsOff(t *testing.T) {
	h := newHarness(t, Settings{})
	h.policy.err = errBoom
	resp := h.send(t, "c1", "cancel order 7845")
	if resp.Status != conversation.StatusHandoff || resp.Reply != ReplyHandoff {
		t.Fatalf("expected handoff, got %+v", resp)
	}
	s, _ := h.engine.State(context.Background(), "c1")
	if s.LastError != "policy_check error: boom" {
		t.Fatalf("unexpected last error %q", s.LastError)
	}
	if ev := h.publisher.Events(); len(ev) != 1 || ev[0].Reason != "step_failure" {
		t.Fatalf("unexpected events %+v", ev)
	}
}

func TestClassifierTimeoutHandsOff(t *testing.T) {
	h := newHarness(t, Settings{})
	h.classifier.delay = 200 * time.Millisecond
	h.build(t, Settings{CollaboratorTimeout: 20 * time.Millisecond})
	resp := h.send(t, "c1", "cancel order 7845")
	if resp.Status != conversation.StatusHandoff {
		t.Fatalf("expected handoff on timeout, got %+v", resp)
	}
	s, _ := h.engine.State(context.Background(), "c1")
	if !strings.HasPrefix(s.LastError, "triage error:") || !strings.Contains(s.LastError, "deadline") {
		t.Fatalf("unexpected last error %q", s.LastError)
	}
}

func TestSaveFailureReturnsInternalFail(t *testing.T) {
	h := newHarness(t, Settings{})
	h.store = &failingStore{Store: store.NewMemoryStore(), saveErr: errBoom}
	h.build(t, Settings{})
	resp := h.send(t, "c1", "cancel order 7845")
	if resp.Reply != ReplyInternalFail || resp.Status != conversation.StatusHandoff {
		t.Fatalf("expected internal failure reply, got %+v", resp)
	}
	if ev := h.publisher.Events(); len(ev) != 1 || ev[0].Reason != "internal_error" {
		t.Fatalf("unexpected events %+v", ev)
	}
}

func TestEmptyConversationIDGetsOne(t *testing.T) {
	h := newHarness(t, Settings{})
	resp := h.send(t, "", "hello")
	if resp.ConversationID == "" {
		t.Fatal("expected a generated conversation id")
	}
	ids, err := h.engine.Conversations(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != resp.ConversationID {
		t.Fatalf("unexpected conversations %v (%v)", ids, err)
	}
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	h := newHarness(t, Settings{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(t, "c1", "hello")
		}()
	}
	wg.Wait()

	hist, err := h.engine.History(context.Background(), "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(hist))
	}
	for i, m := range hist {
		want := conversation.RoleUser
		if i%2 == 1 {
			want = conversation.RoleAssistant
		}
		if m.Role != want {
			t.Fatalf("message %d has role %s, turns interleaved", i, m.Role)
		}
	}
}

func TestClearRemovesConversation(t *testing.T) {
	h := newHarness(t, Settings{})
	h.send(t, "c1", "hello")
	if err := h.engine.Clear(context.Background(), "c1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	s, err := h.engine.State(context.Background(), "c1")
	if err != nil || s != nil {
		t.Fatalf("expected no state, got %+v (%v)", s, err)
	}
}
