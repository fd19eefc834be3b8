package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinIsIdempotent(t *testing.T) {
	tr := New()
	tr.Join("d1", "u1")
	tr.Join("d1", "u1")
	tr.Join("d1", "u2")

	assert.Equal(t, []string{"u1", "u2"}, tr.ActiveActors("d1"))
	assert.Empty(t, tr.ActiveActors("d2"))
}

func TestLeave(t *testing.T) {
	tr := New()
	tr.Join("d1", "u1")
	tr.MoveCursor("d1", "u1", 4)

	tr.Leave("d1", "u1")
	tr.Leave("d1", "u1")
	tr.Leave("d1", "ghost")
	tr.Leave("nowhere", "u1")

	assert.Empty(t, tr.ActiveActors("d1"))
	assert.Empty(t, tr.Cursors("d1"))
	assert.False(t, tr.IsActive("d1", "u1"))
}

func TestCursors(t *testing.T) {
	tr := New()
	tr.Join("d1", "u1")
	tr.Join("d1", "u2")
	tr.MoveCursor("d1", "u1", 3)
	tr.MoveCursor("d1", "u1", 7)
	tr.MoveCursor("d1", "u3", -5)

	assert.Equal(t, map[string]int{"u1": 7, "u3": -5}, tr.Cursors("d1"))
	assert.Equal(t, []string{"u1", "u2"}, tr.ActiveActors("d1"))

	statuses := tr.Statuses("d1")
	assert.Len(t, statuses, 2)
	assert.Equal(t, "u1", statuses[0].UserID)
	assert.Equal(t, 7, statuses[0].CursorPos)

	// Rejoining keeps the cursor.
	tr.Join("d1", "u1")
	assert.Equal(t, 7, tr.Cursors("d1")["u1"])
}

func TestCursorDoesNotJoin(t *testing.T) {
	tr := New()
	tr.MoveCursor("d1", "u1", 2)

	assert.False(t, tr.IsActive("d1", "u1"))
	assert.Empty(t, tr.ActiveActors("d1"))
	assert.Empty(t, tr.Statuses("d1"))
	assert.Equal(t, map[string]int{"u1": 2}, tr.Cursors("d1"))

	tr.Join("d1", "u1")
	assert.Equal(t, []string{"u1"}, tr.ActiveActors("d1"))
	assert.Equal(t, 2, tr.Statuses("d1")[0].CursorPos, "joining keeps an earlier cursor")

	assert.True(t, tr.Leave("d1", "u1"))
	assert.Empty(t, tr.Cursors("d1"))

	tr.MoveCursor("d1", "u2", 1)
	assert.False(t, tr.Leave("d1", "u2"), "a cursor alone is not a join")
	assert.Empty(t, tr.Cursors("d1"))
}

func TestSnapshotsAreCopies(t *testing.T) {
	tr := New()
	tr.MoveCursor("d1", "u1", 1)
	cursors := tr.Cursors("d1")
	cursors["u1"] = 99
	assert.Equal(t, 1, tr.Cursors("d1")["u1"])
}

func TestForget(t *testing.T) {
	tr := New()
	tr.Join("d1", "u1")
	tr.Join("d2", "u1")
	tr.Forget("d1")
	assert.Empty(t, tr.ActiveActors("d1"))
	assert.Equal(t, []string{"u1"}, tr.ActiveActors("d2"))
}

func TestConcurrentAccess(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := fmt.Sprintf("u%d", i)
			tr.Join("d1", actor)
			tr.MoveCursor("d1", actor, i)
			_ = tr.Cursors("d1")
			_ = tr.ActiveActors("d1")
		}(i)
	}
	wg.Wait()
	assert.Len(t, tr.ActiveActors("d1"), 50)
	assert.Len(t, tr.Cursors("d1"), 50)
}
