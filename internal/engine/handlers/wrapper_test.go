package handlers

import (
	"encoding/json"
	"errors"
	"testing"

	"drawn-of-war/internal/deployment"
	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/api"
)

func TestWithPayload(t *testing.T) {
	ctx := Context{MatchID: "m1", Player: domain.Player1, Phase: domain.PhaseDeployment}

	called := 0
	h := WithPayload(func(_ Context, p api.ReadyPayload) (Result, error) {
		called++
		return Result{StatusChanged: true}, nil
	})

	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{name: "valid", raw: `{"matchId":"m1","playerId":"player1"}`},
		{name: "empty", raw: ``, wantCode: api.CodeBadRequest},
		{name: "broken json", raw: `{"matchId":`, wantCode: api.CodeBadRequest},
		{name: "invalid player", raw: `{"matchId":"m1","playerId":"player3"}`, wantCode: api.CodeBadRequest},
		{name: "other match", raw: `{"matchId":"m2","playerId":"player1"}`, wantCode: api.CodeWrongPlayer},
		{name: "other player", raw: `{"matchId":"m1","playerId":"player2"}`, wantCode: api.CodeWrongPlayer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := called
			res, err := h(ctx, json.RawMessage(tt.raw))
			if tt.wantCode == "" {
				if err != nil || !res.StatusChanged || called != before+1 {
					t.Fatalf("res=%+v err=%v", res, err)
				}
				return
			}
			var ep api.ErrorPayload
			if !errors.As(err, &ep) || ep.Code != tt.wantCode {
				t.Fatalf("err = %v, want code %s", err, tt.wantCode)
			}
			if called != before {
				t.Error("handler ran on rejected payload")
			}
		})
	}
}

func TestAsErrorPayload(t *testing.T) {
	res := deployment.ValidationResult{Reason: deployment.ReasonOccupied, Message: "hex 1,1 is occupied"}
	if ep := AsErrorPayload(RejectValidation(res)); ep.Code != "occupied" || ep.Message != res.Message {
		t.Errorf("validation reject = %+v", ep)
	}
	if ep := AsErrorPayload(errors.New("boom")); ep.Code != api.CodeInternal {
		t.Errorf("plain error = %+v", ep)
	}
}
