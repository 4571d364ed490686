package action

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
)

func record(id string, a Action) Record {
	return Record{ID: ID(id), Action: a, Status: InProgress, StartedAt: time.Now()}
}

func TestAppendSetsLatestAndKeepsPrevious(t *testing.T) {
	var h History
	_, ok := h.Latest()
	assert.False(t, ok)

	h1 := h.Append(record("a", AddParticipant))
	h2 := h1.Append(record("b", CheckIn))

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 1, h1.Len())
	assert.Equal(t, ID("a"), h1.LatestID())

	latest, ok := h2.Latest()
	require.True(t, ok)
	assert.Equal(t, ID("b"), latest.ID)
	assert.Equal(t, []ID{"a", "b"}, ids(h2.Records()))
}

func TestUpdateStatusLeavesLatestAndOriginalUntouched(t *testing.T) {
	h := History{}.Append(record("a", AddParticipant)).Append(record("b", AddOrganizer))
	tx := blockchain.FinalizedTxData{Status: blockchain.SucceedEntirely, TxID: "tx-1", BlockHeight: 3}

	next, err := h.Succeed("a", tx)
	require.NoError(t, err)

	updated, _ := next.Get("a")
	assert.Equal(t, Success, updated.Status)
	require.NotNil(t, updated.FinalizedTxData)
	assert.Equal(t, "tx-1", updated.FinalizedTxData.TxID)
	assert.Equal(t, ID("b"), next.LatestID())

	original, _ := h.Get("a")
	assert.Equal(t, InProgress, original.Status)
}

func TestFailRecordsMessageAndPartialData(t *testing.T) {
	h := History{}.Append(record("a", CheckIn))
	partial := &blockchain.FinalizedTxData{Status: blockchain.FailEntirely, TxID: "tx-9"}

	next, err := h.Fail("a", "boom", partial)
	require.NoError(t, err)

	r, _ := next.Get("a")
	assert.Equal(t, Failed, r.Status)
	assert.Equal(t, "boom", r.Error)
	assert.Equal(t, partial, r.FinalizedTxData)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	h := History{}.Append(record("a", CheckIn))

	next, err := h.Succeed("missing", blockchain.FinalizedTxData{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, apperrors.Kind(apperrors.CodeNotFound)))
	assert.True(t, StatusesEqual(h, next))
	assert.Equal(t, h.Records(), next.Records())
}

func TestStatusesEqualIgnoresTimestampsAndPayloads(t *testing.T) {
	a := History{}.Append(Record{ID: "x", Action: AddParticipant, Status: InProgress, StartedAt: time.Unix(1, 0)})
	b := History{}.Append(Record{ID: "x", Action: AddParticipant, Status: InProgress, StartedAt: time.Unix(99, 0)})
	assert.True(t, StatusesEqual(a, a))
	assert.True(t, StatusesEqual(a, b))

	a, _ = a.Succeed("x", blockchain.FinalizedTxData{TxID: "one"})
	b, _ = b.Succeed("x", blockchain.FinalizedTxData{TxID: "two"})
	assert.True(t, StatusesEqual(a, b))

	c, _ := b.Fail("x", "nope", nil)
	assert.False(t, StatusesEqual(a, c))
	assert.False(t, StatusesEqual(a, a.Append(record("y", CheckIn))))
}

func TestRandomSequencesKeepEveryIDAndLatest(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		var (
			h      History
			added  []ID
			final  = map[ID]Status{}
			lastID ID
		)
		for step := range 30 {
			if len(added) == 0 || rng.IntN(3) == 0 {
				id := ID(fmt.Sprintf("id-%d", step))
				h = h.Append(record(string(id), AddParticipant))
				added = append(added, id)
				final[id] = InProgress
				lastID = id
				continue
			}
			id := added[rng.IntN(len(added))]
			var err error
			if rng.IntN(2) == 0 {
				h, err = h.Succeed(id, blockchain.FinalizedTxData{})
				final[id] = Success
			} else {
				h, err = h.Fail(id, "failed", nil)
				final[id] = Failed
			}
			require.NoError(t, err)
		}

		assert.Equal(t, lastID, h.LatestID())
		assert.Equal(t, len(added), h.Len())
		for id, status := range final {
			r, ok := h.Get(id)
			require.True(t, ok)
			assert.Equal(t, status, r.Status)
		}
	}
}

func ids(records []Record) []ID {
	out := make([]ID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
