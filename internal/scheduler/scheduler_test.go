package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/pullsync"
)

type fakeRunner struct {
	mu         sync.Mutex
	configured map[models.Channel]bool
	runs       []models.Channel
	deadline   bool
}

func (f *fakeRunner) Configured(ch models.Channel) bool {
	return f.configured[ch]
}

func (f *fakeRunner) Run(ctx context.Context, ch models.Channel) pullsync.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, ch)
	_, f.deadline = ctx.Deadline()
	return pullsync.Summary{Channel: ch, Success: true}
}

func TestScheduleConfiguredChannelsOnly(t *testing.T) {
	runner := &fakeRunner{configured: map[models.Channel]bool{
		models.ChannelInstagram: true,
		models.ChannelWhatsApp:  true,
	}}
	s := New(runner, "*/5 * * * *", time.Minute, zerolog.Nop())
	defer s.ctab.Shutdown()

	scheduled, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, []models.Channel{models.ChannelInstagram, models.ChannelWhatsApp}, scheduled)
}

func TestScheduleDisabled(t *testing.T) {
	s := New(&fakeRunner{}, "  ", 0, zerolog.Nop())
	defer s.ctab.Shutdown()

	scheduled, err := s.Schedule()
	require.NoError(t, err)
	assert.Empty(t, scheduled)
	assert.Equal(t, DefaultJobTimeout, s.jobTimeout)
}

func TestScheduleInvalidSpec(t *testing.T) {
	runner := &fakeRunner{configured: map[models.Channel]bool{models.ChannelMessenger: true}}
	s := New(runner, "every five minutes", time.Minute, zerolog.Nop())
	defer s.ctab.Shutdown()

	_, err := s.Schedule()
	assert.Error(t, err)
}

func TestRunOnceSetsDeadline(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, "", time.Minute, zerolog.Nop())
	defer s.ctab.Shutdown()

	s.RunOnce(models.ChannelMessenger)

	assert.Equal(t, []models.Channel{models.ChannelMessenger}, runner.runs)
	assert.True(t, runner.deadline)
}
