package api

import (
	"errors"
	"fmt"

	"drawn-of-war/internal/domain"
)

// Validator - интерфейс, который могут реализовать DTO
type Validator interface {
	Validate() error
}

var (
	ErrMissingMatchID  = errors.New("matchId is required")
	ErrInvalidPlayerID = errors.New("playerId must be player1 or player2")
)

// Ref отдаёт адрес события. Метод продвигается во все payload'ы со встроенным MatchRef.
func (r MatchRef) Ref() MatchRef {
	return r
}

func (r MatchRef) Validate() error {
	if r.MatchID == "" {
		return ErrMissingMatchID
	}
	if !r.PlayerID.Valid() {
		return ErrInvalidPlayerID
	}
	return nil
}

func (p JoinPayload) Validate() error {
	return p.MatchRef.Validate()
}

func (p ReadyPayload) Validate() error {
	return p.MatchRef.Validate()
}

func (p PlacePayload) Validate() error {
	if err := p.MatchRef.Validate(); err != nil {
		return err
	}
	return validatePlacement(p.Placement)
}

func (p RemovePayload) Validate() error {
	if err := p.MatchRef.Validate(); err != nil {
		return err
	}
	if p.CreatureID == "" {
		return errors.New("creatureId is required")
	}
	return nil
}

func (p UpdatePlacementsPayload) Validate() error {
	if err := p.MatchRef.Validate(); err != nil {
		return err
	}
	if len(p.Placements) > domain.MaxCreatures {
		return fmt.Errorf("at most %d placements allowed, got %d", domain.MaxCreatures, len(p.Placements))
	}
	seen := make(map[string]bool, len(p.Placements))
	for _, pl := range p.Placements {
		if err := validatePlacement(pl); err != nil {
			return err
		}
		if seen[pl.Creature.ID] {
			return fmt.Errorf("creature %s placed twice", pl.Creature.ID)
		}
		seen[pl.Creature.ID] = true
	}
	return nil
}

func (p CombatRoomPayload) Validate() error {
	if p.MatchID == "" {
		return ErrMissingMatchID
	}
	return nil
}

func validatePlacement(p domain.Placement) error {
	if p.Creature.ID == "" {
		return errors.New("placement.creature.id is required")
	}
	if p.Hex.Q < 0 || p.Hex.R < 0 {
		return fmt.Errorf("placement hex %s has negative coordinates", p.Hex.Hash())
	}
	return nil
}
