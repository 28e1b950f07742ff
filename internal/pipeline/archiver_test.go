package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSettler struct {
	calls atomic.Int32
	err   error
}

func (s *countingSettler) ArchiveSettled(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiverRun(t *testing.T) {
	s := &countingSettler{}
	a := NewArchiver(s, quietLogger())
	require.NoError(t, a.Run(context.Background()))
	assert.EqualValues(t, 1, s.calls.Load())

	s.err = errors.New("s3 down")
	assert.ErrorIs(t, a.Run(context.Background()), s.err)
}

func TestArchiverRunIntervalKeepsGoingOnFailure(t *testing.T) {
	s := &countingSettler{err: errors.New("s3 down")}
	a := NewArchiver(s, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunInterval(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return s.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestArchiverRejectsBadSchedules(t *testing.T) {
	a := NewArchiver(&countingSettler{}, quietLogger())
	assert.Error(t, a.RunInterval(context.Background(), 0))
	assert.Error(t, a.RunCron(context.Background(), "bogus"))
}
