package karakuri_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/karakuri"
)

func TestEventContent(t *testing.T) {
	ctx := context.Background()
	elog := karakuri.NewMemoryLog()

	t.Run("decodes the typed payload", func(t *testing.T) {
		ev, err := elog.Append(ctx, "task-a", karakuri.EventObservation, karakuri.ObservationContent{
			StepID: "step_1",
			OpID:   "op-1",
			Tool:   "fetch_page",
			Status: karakuri.OutcomeSuccess,
			Result: map[string]any{"status": "200"},
		})
		gt.NoError(t, err).Required()

		obs, err := ev.Observation()
		gt.NoError(t, err).Required()
		gt.Equal(t, obs.StepID, "step_1")
		gt.Equal(t, obs.Tool, "fetch_page")
		gt.Equal(t, obs.Status, karakuri.OutcomeSuccess)
		gt.Equal(t, obs.Result, map[string]any{"status": "200"})
	})

	t.Run("rejects a type mismatch", func(t *testing.T) {
		ev, err := elog.Append(ctx, "task-a", karakuri.EventKnowledge, karakuri.KnowledgeContent{Topic: "digest", Text: "summary"})
		gt.NoError(t, err).Required()

		_, err = ev.Message()
		gt.Error(t, err)
		gt.True(t, errors.Is(err, karakuri.ErrInvalidParameter))
	})

	t.Run("raw json passes through append untouched", func(t *testing.T) {
		raw := json.RawMessage(`{"role":"user","text":"hello"}`)
		ev, err := elog.Append(ctx, "task-a", karakuri.EventMessage, raw)
		gt.NoError(t, err).Required()

		msg, err := ev.Message()
		gt.NoError(t, err).Required()
		gt.Equal(t, msg.Role, karakuri.RoleUser)
		gt.Equal(t, msg.Text, "hello")
	})
}
