package pushmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMsg(id string) Message {
	return Message{ID: id, Type: TypeInfo, Code: "c", Message: "m", Timeout: 5}
}

func TestAddIsDedupedByID(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(validMsg("m1")))

	dup := validMsg("m1")
	dup.Message = "changed"
	require.NoError(t, b.Add(dup))

	all := b.ReadAll()
	require.Len(t, all, 1)
	assert.Equal(t, "m", all[0].Message, "Add on an existing id must be a no-op")
}

func TestUpdateReplaces(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(validMsg("m1")))

	updated := validMsg("m1")
	updated.Message = "changed"
	require.NoError(t, b.Update(updated))

	all := b.ReadAll()
	require.Len(t, all, 1)
	assert.Equal(t, "changed", all[0].Message)
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(validMsg("m1")))
	b.Remove("m1")
	b.Remove("m1") // must not panic or error
	assert.Empty(t, b.ReadAll())
}

func TestReadAllDoesNotDrain(t *testing.T) {
	b := New()
	require.NoError(t, b.Add(validMsg("m1")))
	_ = b.ReadAll()
	assert.Len(t, b.ReadAll(), 1)
}

func TestAddRejectsMissingFieldsAndBadType(t *testing.T) {
	b := New()
	assert.Error(t, b.Add(Message{ID: "x", Type: TypeInfo, Code: "c"}))
	assert.Error(t, b.Add(Message{ID: "x", Type: "bogus", Code: "c", Message: "m"}))
}

func TestSubscriberReceivesBroadcast(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	require.NoError(t, b.Add(validMsg("m1")))

	select {
	case got := <-sub:
		assert.Equal(t, "m1", got.ID)
	default:
		t.Fatal("expected subscriber to receive the broadcast message")
	}
}
