package api

import (
	"encoding/json"
	"fmt"

	"drawn-of-war/internal/domain"
)

// Namespace — канал синхронизации. Расстановка и бой живут на разных сокетах.
type Namespace string

const (
	NamespaceDeployment Namespace = "deployment"
	NamespaceCombat     Namespace = "combat"
)

// --- КЛИЕНТ -> СЕРВЕР (deployment) ---

const (
	EventJoin             = "join"
	EventPlace            = "place"
	EventRemove           = "remove"
	EventUpdatePlacements = "update-placements"
	EventReady            = "ready"
	EventUnready          = "unready"
)

// --- СЕРВЕР -> КЛИЕНТ (deployment) ---

const (
	EventState                = "state"
	EventOpponentPlaced       = "opponent-placed"
	EventOpponentRemoved      = "opponent-removed"
	EventOpponentUpdated      = "opponent-updated"
	EventStatusChanged        = "status-changed"
	EventOpponentConnected    = "opponent-connected"
	EventOpponentDisconnected = "opponent-disconnected"
	EventCombatStarted        = "combat-started"
	EventCombatCompleted      = "combat-completed"
	EventError                = "error"
)

// --- Combat namespace ---

const (
	CombatJoin     = "join"
	CombatLeave    = "leave"
	CombatGetState = "getState"

	CombatJoined    = "joined"
	CombatState     = "state"
	CombatEvents    = "events"
	CombatCompleted = "completed"
)

// Коды ошибок в ErrorPayload.Code. Для отказов валидации кодом служит причина
// из deployment (locked, max_creatures, out_of_zone, occupied).
const (
	CodeBadRequest    = "bad_request"
	CodeNotJoined     = "not_joined"
	CodeWrongPlayer   = "wrong_player"
	CodeMatchNotFound = "match_not_found"
	CodeMatchClosed   = "match_closed"
	CodeNotReady      = "not_ready"
	CodeInternal      = "internal"
)

// Message — единый конверт для обоих направлений и обоих пространств имён.
type Message struct {
	// Type имя события (join, place, state, ...).
	Type string `json:"type"`

	// Payload объект события. Его структура зависит от Type.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage упаковывает payload в конверт.
func NewMessage(eventType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Message{Type: eventType, Payload: raw}, nil
}

// Encode сериализует конверт целиком.
func Encode(eventType string, payload any) ([]byte, error) {
	msg, err := NewMessage(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode распаковывает Payload в v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("event %s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("event %s: %w", m.Type, err)
	}
	return nil
}

// --- Payloads: клиент -> сервер ---

// MatchRef — общая часть всех клиентских событий расстановки.
type MatchRef struct {
	MatchID  string          `json:"matchId"`
	PlayerID domain.PlayerID `json:"playerId"`
}

// JoinPayload — запрос на вход в матч (join). Ответ — ровно одно state или error.
type JoinPayload struct {
	MatchRef
}

// PlacePayload — размещение или перемещение одного существа.
type PlacePayload struct {
	MatchRef
	Placement domain.Placement `json:"placement"`
}

// RemovePayload — снятие существа с поля.
type RemovePayload struct {
	MatchRef
	CreatureID string `json:"creatureId"`
}

// UpdatePlacementsPayload — массовая замена своих размещений.
type UpdatePlacementsPayload struct {
	MatchRef
	Placements []domain.Placement `json:"placements"`
}

// ReadyPayload используется и для ready, и для unready.
type ReadyPayload struct {
	MatchRef
}

// CombatRoomPayload — join/leave/getState в пространстве боя.
type CombatRoomPayload struct {
	MatchID string `json:"matchId"`
}

// --- Payloads: сервер -> клиент ---

// StatePayload — полный снимок расстановки. Единственный ответ на успешный join.
type StatePayload struct {
	MatchID           string                  `json:"matchId"`
	Player1Placements []domain.Placement      `json:"player1Placements"`
	Player2Placements []domain.Placement      `json:"player2Placements"`
	Status            domain.DeploymentStatus `json:"status"`
}

// PlacementsFor возвращает размещения указанной стороны.
func (s StatePayload) PlacementsFor(p domain.PlayerID) []domain.Placement {
	if p == domain.Player2 {
		return s.Player2Placements
	}
	return s.Player1Placements
}

// OpponentPlacedPayload — соперник разместил/переместил существо.
type OpponentPlacedPayload struct {
	PlayerID  domain.PlayerID  `json:"playerId"`
	Placement domain.Placement `json:"placement"`
}

// OpponentRemovedPayload — соперник снял существо.
type OpponentRemovedPayload struct {
	PlayerID   domain.PlayerID `json:"playerId"`
	CreatureID string          `json:"creatureId"`
}

// OpponentUpdatedPayload — соперник заменил все размещения разом.
type OpponentUpdatedPayload struct {
	PlayerID   domain.PlayerID    `json:"playerId"`
	Placements []domain.Placement `json:"placements"`
}

// StatusChangedPayload — изменились флаги готовности/фиксации или пошёл отсчёт.
type StatusChangedPayload struct {
	Status domain.DeploymentStatus `json:"status"`
}

// PlayerPayload — opponent-connected / opponent-disconnected.
type PlayerPayload struct {
	PlayerID domain.PlayerID `json:"playerId"`
}

// CombatStartedPayload — расстановка завершена, бой начат.
type CombatStartedPayload struct {
	MatchID string `json:"matchId"`
}

// CombatCompletedPayload — итог боя в пространстве расстановки.
type CombatCompletedPayload struct {
	MatchID  string          `json:"matchId"`
	Winner   domain.PlayerID `json:"winner,omitempty"`
	Reason   string          `json:"reason"`
	Duration int64           `json:"duration"`
}

// ErrorPayload — отказ сервера. Клиент показывает его и не повторяет операцию сам.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e ErrorPayload) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// CombatJoinedPayload — подтверждение входа в комнату боя.
type CombatJoinedPayload struct {
	MatchID string `json:"matchId"`
	Room    string `json:"room"`
}

// CombatEventsPayload — явные события боя от симулятора.
type CombatEventsPayload struct {
	MatchID string               `json:"matchId"`
	Events  []domain.CombatEvent `json:"events"`
}

// CombatCompletedResult — completed в пространстве боя.
type CombatCompletedResult struct {
	Result domain.CombatResult `json:"result"`
}

// CombatRoom — имя комнаты боя для матча.
func CombatRoom(matchID string) string {
	return "combat:" + matchID
}
