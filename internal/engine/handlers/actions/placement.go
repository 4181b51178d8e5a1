package actions

import (
	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine/handlers"
	"drawn-of-war/pkg/api"
)

// requireDeployment — после фиксации обеих сторон матч принимает только чтение.
func requireDeployment(ctx handlers.Context) error {
	if ctx.Phase != domain.PhaseDeployment {
		return handlers.Reject(api.CodeMatchClosed, "match %s is in %s phase", ctx.MatchID, ctx.Phase)
	}
	return nil
}

// ownCreature проставляет владельца. Чужое существо разместить нельзя.
func ownCreature(ctx handlers.Context, c domain.Creature) (domain.Creature, error) {
	if c.OwnerPlayer != "" && c.OwnerPlayer != ctx.Player {
		return c, handlers.Reject(api.CodeWrongPlayer, "creature %s belongs to %s", c.ID, c.OwnerPlayer)
	}
	c.OwnerPlayer = ctx.Player
	return c, nil
}

func rejectLocked(ctx handlers.Context) error {
	return handlers.Reject(string(deployment.ReasonLocked), "deployment of %s is locked", ctx.Player)
}

func HandlePlace(ctx handlers.Context, p api.PlacePayload) (handlers.Result, error) {
	if err := requireDeployment(ctx); err != nil {
		return handlers.EmptyResult(), err
	}
	c, err := ownCreature(ctx, p.Placement.Creature)
	if err != nil {
		return handlers.EmptyResult(), err
	}

	placed, res := ctx.Machine.PlaceFor(ctx.Player, c, p.Placement.Hex)
	if !placed {
		return handlers.EmptyResult(), handlers.RejectValidation(res)
	}

	// Отдаем сопернику то, что записала машина: направление взгляда считает сервер.
	placement := p.Placement
	placement.Creature = c
	for _, pl := range ctx.Machine.Placements(ctx.Player) {
		if pl.Creature.ID == c.ID {
			placement = pl
			break
		}
	}

	return handlers.Result{
		Event:   api.EventOpponentPlaced,
		Payload: api.OpponentPlacedPayload{PlayerID: ctx.Player, Placement: placement},
		Persist: true,
	}, nil
}

func HandleRemove(ctx handlers.Context, p api.RemovePayload) (handlers.Result, error) {
	if err := requireDeployment(ctx); err != nil {
		return handlers.EmptyResult(), err
	}
	if ctx.Machine.IsLocked(ctx.Player) {
		return handlers.EmptyResult(), rejectLocked(ctx)
	}
	// Отсутствующий id — не ошибка: клиент мог снять существо дважды.
	if !ctx.Machine.RemoveFor(ctx.Player, p.CreatureID) {
		return handlers.EmptyResult(), nil
	}

	return handlers.Result{
		Event:   api.EventOpponentRemoved,
		Payload: api.OpponentRemovedPayload{PlayerID: ctx.Player, CreatureID: p.CreatureID},
		Persist: true,
	}, nil
}

// HandleUpdatePlacements заменяет список целиком: либо все размещения проходят проверку, либо ни одно.
func HandleUpdatePlacements(ctx handlers.Context, p api.UpdatePlacementsPayload) (handlers.Result, error) {
	if err := requireDeployment(ctx); err != nil {
		return handlers.EmptyResult(), err
	}
	if ctx.Machine.IsLocked(ctx.Player) {
		return handlers.EmptyResult(), rejectLocked(ctx)
	}

	// Проверяем на черновой машине, где у соперника те же размещения, а у игрока пусто.
	scratch := deployment.NewMachine(ctx.Machine.Config(), ctx.Player)
	opponent := ctx.Player.Opponent()
	scratch.SyncPlacementsFromServer(opponent, ctx.Machine.Placements(opponent))

	for _, pl := range p.Placements {
		c, err := ownCreature(ctx, pl.Creature)
		if err != nil {
			return handlers.EmptyResult(), err
		}
		if placed, res := scratch.PlaceFor(ctx.Player, c, pl.Hex); !placed {
			return handlers.EmptyResult(), handlers.RejectValidation(res)
		}
	}

	// Направления взгляда берем из черновика: их нормализует машина.
	placements := scratch.Placements(ctx.Player)
	ctx.Machine.SyncPlacementsFromServer(ctx.Player, placements)

	return handlers.Result{
		Event:   api.EventOpponentUpdated,
		Payload: api.OpponentUpdatedPayload{PlayerID: ctx.Player, Placements: placements},
		Persist: true,
	}, nil
}
