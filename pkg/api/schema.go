package api

import (
	"reflect"

	"github.com/invopop/jsonschema"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/hex"
)

// Направление события относительно сервера.
const (
	Inbound  = "client-to-server"
	Outbound = "server-to-client"
)

// EventSpec описывает одно событие протокола (документация, генерация схемы).
type EventSpec struct {
	Namespace Namespace
	Direction string
	Name      string
	Payload   any
}

// Key уникален среди всех пространств имён и направлений.
func (e EventSpec) Key() string {
	return string(e.Namespace) + "." + e.Direction + "." + e.Name
}

// Events — каталог всех событий обоих пространств имён.
func Events() []EventSpec {
	return []EventSpec{
		{NamespaceDeployment, Inbound, EventJoin, JoinPayload{}},
		{NamespaceDeployment, Inbound, EventPlace, PlacePayload{}},
		{NamespaceDeployment, Inbound, EventRemove, RemovePayload{}},
		{NamespaceDeployment, Inbound, EventUpdatePlacements, UpdatePlacementsPayload{}},
		{NamespaceDeployment, Inbound, EventReady, ReadyPayload{}},
		{NamespaceDeployment, Inbound, EventUnready, ReadyPayload{}},

		{NamespaceDeployment, Outbound, EventState, StatePayload{}},
		{NamespaceDeployment, Outbound, EventOpponentPlaced, OpponentPlacedPayload{}},
		{NamespaceDeployment, Outbound, EventOpponentRemoved, OpponentRemovedPayload{}},
		{NamespaceDeployment, Outbound, EventOpponentUpdated, OpponentUpdatedPayload{}},
		{NamespaceDeployment, Outbound, EventStatusChanged, StatusChangedPayload{}},
		{NamespaceDeployment, Outbound, EventOpponentConnected, PlayerPayload{}},
		{NamespaceDeployment, Outbound, EventOpponentDisconnected, PlayerPayload{}},
		{NamespaceDeployment, Outbound, EventCombatStarted, CombatStartedPayload{}},
		{NamespaceDeployment, Outbound, EventCombatCompleted, CombatCompletedPayload{}},
		{NamespaceDeployment, Outbound, EventError, ErrorPayload{}},

		{NamespaceCombat, Inbound, CombatJoin, CombatRoomPayload{}},
		{NamespaceCombat, Inbound, CombatLeave, CombatRoomPayload{}},
		{NamespaceCombat, Inbound, CombatGetState, CombatRoomPayload{}},
		{NamespaceCombat, Outbound, CombatJoined, CombatJoinedPayload{}},
		{NamespaceCombat, Outbound, CombatState, domain.CombatSnapshot{}},
		{NamespaceCombat, Outbound, CombatEvents, CombatEventsPayload{}},
		{NamespaceCombat, Outbound, CombatCompleted, CombatCompletedResult{}},
		{NamespaceCombat, Outbound, EventError, ErrorPayload{}},
	}
}

// BuildSchema собирает схемы всех payload в один документ с ключами EventSpec.Key.
func BuildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Mapper:         mapWireType,
	}

	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Drawn of War sync protocol",
		Description: "Payloads carried in the payload field of {type, payload} envelopes.",
		Definitions: jsonschema.Definitions{},
	}
	for _, e := range Events() {
		s := reflector.Reflect(e.Payload)
		s.Version = ""
		s.Title = e.Name
		s.Description = string(e.Namespace) + " " + e.Direction
		root.Definitions[e.Key()] = s
	}
	return root
}

var directionType = reflect.TypeOf(hex.Direction(0))

// mapWireType подменяет схему типов, чья JSON-форма отличается от Go-типа.
func mapWireType(t reflect.Type) *jsonschema.Schema {
	if t == directionType {
		enum := make([]any, 0, 6)
		for _, d := range hex.Directions {
			enum = append(enum, d.String())
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	}
	return nil
}
