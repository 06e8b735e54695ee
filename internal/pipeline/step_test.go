package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStepKind(t *testing.T) {
	tests := []struct {
		in      string
		want    StepKind
		wantErr bool
	}{
		{"ingest", StepIngest, false},
		{" Promote ", StepPromote, false},
		{"RECONCILE", StepReconcile, false},
		{"profile", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStepKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStep)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseStepKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	assert.Equal(t, "StepKind(9)", StepKind(9).String())

	_, err := StepKind(9).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var got Request
	r.Register(StepPromote, func(ctx context.Context, req Request) (*Result, error) {
		got = req
		return &Result{}, nil
	})

	res, err := r.Run(context.Background(), StepPromote, Request{BatchID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, StepPromote, res.Kind)
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, []StepKind{StepPromote}, r.Registered())

	_, err = r.Run(context.Background(), StepIngest, Request{})
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestRegistryPropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Register(StepIngest, func(context.Context, Request) (*Result, error) { return nil, boom })

	_, err := r.Run(context.Background(), StepIngest, Request{})
	assert.ErrorIs(t, err, boom)
}

func TestRegistryPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, Request) (*Result, error) { return nil, nil }
	r.Register(StepIngest, h)

	assert.Panics(t, func() { r.Register(StepIngest, h) })
	assert.Panics(t, func() { r.Register(StepKind(42), h) })
}

func TestStandardRegistersEveryKind(t *testing.T) {
	r := Standard(Steps{})
	assert.Equal(t, Kinds(), r.Registered())
}

func TestStandardPromoteRequiresBatch(t *testing.T) {
	r := Standard(Steps{})
	_, err := r.Run(context.Background(), StepPromote, Request{})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestGatedStepRejectsWhileBusy(t *testing.T) {
	gate := core.NewBatchGate(10 * time.Millisecond)
	require.NoError(t, gate.Acquire(context.Background(), "running"))
	defer gate.Release()

	r := Standard(Steps{Gate: gate})
	_, err := r.Run(context.Background(), StepPromote, Request{BatchID: "b2"})
	assert.ErrorIs(t, err, core.ErrBatchInProgress)
}

func TestParseStepKindCarriesUserMessage(t *testing.T) {
	_, err := ParseStepKind("explode")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStep)

	msg := core.MapError(fmt.Errorf("dispatch: %w", err))
	assert.Equal(t, "REQ002", msg.Code)
	assert.Equal(t, "Unknown step", msg.Message)
	assert.Contains(t, core.FormatLineageError(err), `[REQ002] Unknown step: unknown step: "explode"`)
}

func TestPromoteFor(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name    string
		def     bool
		promote *bool
		want    bool
	}{
		{"unset uses default on", true, nil, true},
		{"unset uses default off", false, nil, false},
		{"explicit false beats default", true, &no, false},
		{"explicit true beats default", false, &yes, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Steps{DefaultPromote: tt.def}
			assert.Equal(t, tt.want, s.promoteFor(Request{Promote: tt.promote}))
		})
	}
}

func TestRequestDurationJSON(t *testing.T) {
	tests := []struct {
		body    string
		want    time.Duration
		wantErr bool
	}{
		{`{"older_than":"6h"}`, 6 * time.Hour, false},
		{`{"older_than":"90m"}`, 90 * time.Minute, false},
		{`{"older_than":3600000000000}`, time.Hour, false},
		{`{"older_than":null}`, 0, false},
		{`{}`, 0, false},
		{`{"older_than":"soon"}`, 0, true},
		{`{"older_than":1.5}`, 0, true},
		{`{"older_than":[1]}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			var req Request
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(req.OlderThan))
		})
	}

	b, err := json.Marshal(Request{BatchID: "b1", OlderThan: Duration(6 * time.Hour)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":"b1","older_than":"6h0m0s"}`, string(b))
}
