package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlow(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    float64
		wantErr bool
	}{
		{name: "units and NUL padding", payload: []byte("3.14 L/min\x00"), want: 3.14},
		{name: "bare integer", payload: []byte("12"), want: 12},
		{name: "leading dot", payload: []byte(".5"), want: 0.5},
		{name: "negative", payload: []byte("-1.25"), want: -1.25},
		{name: "explicit plus", payload: []byte("+2.0"), want: 2},
		{name: "whitespace around", payload: []byte("  \t7.75\r\n"), want: 7.75},
		{name: "first number wins", payload: []byte("flow=4.5 total=100"), want: 4.5},
		{name: "invalid utf8 dropped", payload: []byte{0xff, '6', '.', '0'}, want: 6},
		{name: "dashes only", payload: []byte("----"), wantErr: true},
		{name: "empty", payload: []byte{}, wantErr: true},
		{name: "NULs only", payload: []byte{0, 0, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFlow(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestBuffer(t *testing.T) {
	b := NewBuffer[int](3)
	assert.Equal(t, 3, b.Cap())
	_, ok := b.Last()
	assert.False(t, ok, "empty buffer MUST have no last element")

	for i := 1; i <= 3; i++ {
		assert.False(t, b.Push(i))
	}
	assert.True(t, b.Push(4), "push into a full buffer MUST evict")
	assert.Equal(t, []int{2, 3, 4}, b.Slice())
	assert.Equal(t, 2, b.At(0))

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, 4, last)

	b.Reset()
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Slice())
	assert.Panics(t, func() { b.At(0) })
}

func TestStateTransitionsTable(t *testing.T) {
	assert.True(t, canTransition(Disconnected, Connecting))
	assert.True(t, canTransition(Failed, Disconnected))
	assert.False(t, canTransition(Disconnected, Monitoring), "monitoring MUST require a connection")
	assert.False(t, canTransition(Failed, Connected))
	assert.Equal(t, "Monitoring", Monitoring.String())
	assert.Equal(t, "State(42)", State(42).String())
}
