// Package router turns one natural-language request into exactly one
// extension invocation, using an AI call as the decision oracle and
// recent conversation history as decision context.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"lifelog/app/access"
	"lifelog/app/client/ai"
	"lifelog/app/service/extension"
	"lifelog/app/storage"

	"github.com/samber/do"
)

// recentTurnsForPrompt bounds how much history is embedded in the
// decision prompt.
const recentTurnsForPrompt = 3

type Service struct {
	store   *storage.Store
	manager *extension.Manager
	decider Decider
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		store:   do.MustInvoke[*storage.Store](di),
		manager: do.MustInvoke[*extension.Manager](di),
		decider: NewDecisionAgent(do.MustInvoke[*ai.Client](di)),
	}, nil
}

func NewService(store *storage.Store, manager *extension.Manager, decider Decider) *Service {
	return &Service{
		store:   store,
		manager: manager,
		decider: decider,
	}
}

// Route classifies the request, invokes the selected extension and
// records the turn. Decision failures and unresolved extension names
// short-circuit with no turn recorded; extension-level failures are
// still recorded so the history reflects what the user experienced.
// No error propagates to the caller as a raw fault.
func (s *Service) Route(ctx context.Context, req access.Request) access.Response {
	response, err := s.route(ctx, req)
	if err != nil {
		slog.Error("Routing failed", "user_id", req.UserID, "error", err)

		return access.Errorf("routing failed: %v", err)
	}

	return response
}

func (s *Service) route(ctx context.Context, req access.Request) (access.Response, error) {
	sess, err := s.store.Acquire(ctx)
	if err != nil {
		return access.Response{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer sess.Close()

	userContext, err := sess.GetOrCreateContext(ctx, req.UserID)
	if err != nil {
		return access.Response{}, fmt.Errorf("failed to fetch context: %w", err)
	}

	turns, err := sess.RecentTurns(ctx, req.UserID, recentTurnsForPrompt)
	if err != nil {
		return access.Response{}, fmt.Errorf("failed to fetch recent turns: %w", err)
	}

	prompt := buildDecisionPrompt(req.Text, s.manager.List(), turns)

	decision, err := s.decider.Decide(ctx, prompt)
	if err != nil {
		slog.Warn("Routing decision failed", "user_id", req.UserID, "error", err)

		return access.Errorf("routing decision failed: %v", err), nil
	}

	if !decision.Success {
		reason := decision.Error
		if reason == "" {
			reason = "no extension matched the request"
		}

		return access.Errorf("routing decision failed: %s", reason), nil
	}

	// Capture the handle once: a reload occurring mid-flight lets this
	// call finish against the pre-reload instance.
	instance := s.manager.Get(decision.ExtensionName)
	if instance == nil {
		return access.Errorf("extension not found: %s", decision.ExtensionName), nil
	}

	params := decision.Params
	if params == nil {
		params = map[string]any{}
	}
	params[extension.ActionKey] = decision.Action

	response, err := instance.Execute(ctx, req, userContext.State, params)
	if err != nil {
		slog.Warn("Extension execution failed",
			"extension", decision.ExtensionName,
			"user_id", req.UserID,
			"error", err)

		response = access.Errorf("extension %s failed: %v", decision.ExtensionName, err)
	}

	turnResponse := response.Message
	if !response.Success && turnResponse == "" {
		turnResponse = response.Error
	}

	if _, err = sess.AddTurn(ctx, req.UserID, storage.TurnData{
		UserInput: req.Text,
		Intent:    decision.Action,
		Domain:    decision.ExtensionName,
		Response:  turnResponse,
		Metadata:  response.Metadata,
	}); err != nil {
		// The user already received a response, losing one history
		// entry is preferable to failing the request.
		slog.Error("Failed to record turn", "user_id", req.UserID, "error", err)
	}

	return response, nil
}
