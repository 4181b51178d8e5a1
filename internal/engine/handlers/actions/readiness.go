package actions

import (
	"drawn-of-war/internal/engine/handlers"
	"drawn-of-war/pkg/api"
)

func HandleReady(ctx handlers.Context, _ api.ReadyPayload) (handlers.Result, error) {
	if err := requireDeployment(ctx); err != nil {
		return handlers.EmptyResult(), err
	}
	if !ctx.Machine.MarkReady(ctx.Player) {
		if ctx.Machine.IsLocked(ctx.Player) {
			return handlers.EmptyResult(), rejectLocked(ctx)
		}
		return handlers.EmptyResult(), handlers.Reject(api.CodeNotReady, "place at least one creature before marking ready")
	}
	return handlers.Result{StatusChanged: true, Persist: true}, nil
}

func HandleUnready(ctx handlers.Context, _ api.ReadyPayload) (handlers.Result, error) {
	if err := requireDeployment(ctx); err != nil {
		return handlers.EmptyResult(), err
	}
	if !ctx.Machine.MarkUnready(ctx.Player) {
		return handlers.EmptyResult(), rejectLocked(ctx)
	}
	return handlers.Result{StatusChanged: true, Persist: true}, nil
}
