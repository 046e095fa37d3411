package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReal_NowIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, New().Now().Location())
}

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(90 * time.Minute)

	assert.Equal(t, start.Add(90*time.Minute), f.Now())
}

func TestFake_TickerFiresOnlyWhenDue(t *testing.T) {
	f := NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	tk := f.NewTicker(time.Hour)
	defer tk.Stop()

	f.Advance(30 * time.Minute)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	f.Advance(30 * time.Minute)
	select {
	case got := <-tk.C():
		assert.Equal(t, f.Now(), got)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFake_StoppedTickerIsSilent(t *testing.T) {
	f := NewFake(time.Now())
	tk := f.NewTicker(time.Minute)
	require.Equal(t, 1, f.TickerCount())

	tk.Stop()
	f.Advance(time.Hour)

	assert.Equal(t, 0, f.TickerCount())
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
