package shard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		progress int64
		want     State
		wantErr  bool
	}{
		{"pending becomes active", State{}, 3, State{StatusActive, 3}, false},
		{"pending with zero progress", State{}, 0, State{StatusActive, 0}, false},
		{"active moves forward", State{StatusActive, 3}, 7, State{StatusActive, 7}, false},
		{"active never moves back", State{StatusActive, 7}, 2, State{StatusActive, 7}, false},
		{"done accepts stale progress", State{StatusDone, 9}, 4, State{StatusDone, 9}, false},
		{"done rejects new progress", State{StatusDone, 9}, 10, State{StatusDone, 9}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.state.Advance(tt.progress)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestComplete(t *testing.T) {
	s, err := State{StatusActive, 5}.Complete(8)
	require.NoError(t, err)
	require.Equal(t, State{StatusDone, 8}, s)

	again, err := s.Complete(8)
	require.NoError(t, err, "identical completion must be a no-op")
	require.Equal(t, s, again)

	_, err = s.Complete(6)
	require.ErrorIs(t, err, ErrInvalidTransition)

	frozen, err := State{StatusActive, 5}.Complete(2)
	require.NoError(t, err)
	require.Equal(t, State{StatusDone, 5}, frozen)
}

func TestSupersedes(t *testing.T) {
	require.True(t, State{StatusDone, 0}.Supersedes(State{StatusActive, 100}))
	require.True(t, State{StatusActive, 0}.Supersedes(State{StatusPending, 100}))
	require.True(t, State{StatusActive, 5}.Supersedes(State{StatusActive, 3}))
	require.False(t, State{StatusActive, 3}.Supersedes(State{StatusActive, 3}))

	require.Equal(t, State{StatusActive, 5}, Latest(State{StatusActive, 5}, State{StatusActive, 3}))
	require.Equal(t, State{StatusActive, 5}, Latest(State{StatusActive, 3}, State{StatusActive, 5}))
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(State{StatusDone, 4})
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"DONE","progress":4}`, string(data))

	var s State
	require.NoError(t, json.Unmarshal([]byte(`{"status":"ACTIVE","progress":2}`), &s))
	require.Equal(t, State{StatusActive, 2}, s)

	require.Error(t, json.Unmarshal([]byte(`{"status":"LOST"}`), &s))
}
