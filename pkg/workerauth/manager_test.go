package workerauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

func TestTokenLifecycle(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	w, token0, err := m.Register("W1", "h", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, w.WorkerID)

	_, err = m.Validate(token0)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(token0))

	_, err = m.Validate(token0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")

	short, _, err := issue(m.secret, w.WorkerID, w.Roles, w.Capabilities, 20*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	_, err = m.Validate(short)
	require.Error(t, err)
	assert.True(t, orcherr.Is(err, orcherr.KindAuth))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateRejectsUnknownWorker(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	token, _, err := issue(m.secret, "ghost-worker-id", []string{"worker"}, nil, DefaultValidity)
	require.NoError(t, err)

	_, err = m.Validate(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker not registered")
}

func TestReapStaleMarksInactive(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	w, _, err := m.Register("W1", "h", nil)
	require.NoError(t, err)
	_, err = m.Update(w.WorkerID, func(info *WorkerInfo) { info.LastSeen = time.Now().Add(-400 * time.Second) })
	require.NoError(t, err)

	reaped := m.ReapStale(300 * time.Second)
	assert.Equal(t, []string{w.WorkerID}, reaped)

	got, _ := m.Get(w.WorkerID)
	assert.False(t, got.Active)
}

func TestRevocationCapEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	reg := m.reg
	reg.revOrder = make([]string, maxRevocations)
	for i := range reg.revOrder {
		jti := newJTI()
		reg.revOrder[i] = jti
		reg.revoked[jti] = struct{}{}
	}
	oldest := reg.revOrder[0]

	require.NoError(t, reg.revoke(newJTI()))

	assert.False(t, reg.isRevoked(oldest), "oldest revocation must be evicted once the cap is reached")
	assert.Len(t, reg.revOrder, maxRevocations)
}
