package maintenance

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MrEthical07/careauth/logger"
)

type fakeSweeper struct {
	calls atomic.Int32
	n     int
	err   error
}

func (f *fakeSweeper) SweepPasskeyChallenges(context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, f.err
}

type fakeArchiver struct {
	calls atomic.Int32
}

func (f *fakeArchiver) ArchiveExpiredGrants(context.Context) (int, error) {
	f.calls.Add(1)
	return 2, nil
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(DefaultConfig(), &fakeSweeper{}, &fakeArchiver{}, nil)
	require.NoError(t, err)
	names := s.Jobs()
	sort.Strings(names)
	require.Equal(t, []string{"emergency_grant_archive", "passkey_challenge_sweep"}, names)

	s, err = New(DefaultConfig(), nil, &fakeArchiver{}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"emergency_grant_archive"}, s.Jobs())
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GrantArchive = "every hour please"
	_, err := New(cfg, nil, &fakeArchiver{}, nil)
	require.Error(t, err)
}

func TestAddRejectsDuplicates(t *testing.T) {
	s, err := New(DefaultConfig(), &fakeSweeper{}, nil, nil)
	require.NoError(t, err)
	err = s.Add(Job{Name: "passkey_challenge_sweep", Spec: "@every 1m", Run: func(context.Context) (int, error) { return 0, nil }})
	require.Error(t, err)
	require.Error(t, s.Add(Job{Name: "x", Spec: "@every 1m"}))
}

func TestRunNowLogsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sweeper := &fakeSweeper{n: 7}
	archiver := &fakeArchiver{}
	s, err := New(DefaultConfig(), sweeper, archiver, logger.FromZap(zap.New(core)))
	require.NoError(t, err)

	n, err := s.RunNow(context.Background(), "passkey_challenge_sweep")
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.EqualValues(t, 1, sweeper.calls.Load())

	finished := logs.FilterMessage("maintenance job finished").All()
	require.Len(t, finished, 1)
	require.EqualValues(t, 7, finished[0].ContextMap()["affected"])

	sweeper.err = errors.New("redis down")
	_, err = s.RunNow(context.Background(), "passkey_challenge_sweep")
	require.Error(t, err)
	require.Len(t, logs.FilterMessage("maintenance job failed").All(), 1)

	_, err = s.RunNow(context.Background(), "nope")
	require.Error(t, err)
}

func TestScheduledRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChallengeSweep = "@every 1s"
	sweeper := &fakeSweeper{}
	s, err := New(cfg, sweeper, nil, nil)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
