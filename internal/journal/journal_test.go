package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTest(t)

	first := &Entry{
		Source:     "ws",
		Action:     "temperature",
		Argument:   "24",
		Address:    0x00,
		Command:    0x18,
		RawCode:    0xE718FF00,
		PulseCount: 67,
		DurationUs: 67980,
		Status:     StatusSent,
	}
	assert.NoError(t, j.Record(first))
	assert.False(t, first.SentAt.IsZero())

	second := &Entry{
		Source:   "mqtt",
		Action:   "mode",
		Argument: "turbo",
		Status:   StatusRejected,
		Error:    "unknown mode",
		SentAt:   first.SentAt.Add(time.Second),
	}
	assert.NoError(t, j.Record(second))

	entries, err := j.Recent(10)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "mode", entries[0].Action)
	assert.Equal(t, StatusRejected, entries[0].Status)
	assert.Equal(t, "unknown mode", entries[0].Error)
	assert.Equal(t, "temperature", entries[1].Action)
	assert.Equal(t, uint32(0xE718FF00), entries[1].RawCode)
	assert.Equal(t, 67, entries[1].PulseCount)
}

func TestRecentHonorsLimit(t *testing.T) {
	j := openTest(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		assert.NoError(t, j.Record(&Entry{
			Action: "power",
			Status: StatusSent,
			SentAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := j.Recent(3)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	assert.NoError(t, err)
	assert.NoError(t, j.Record(&Entry{Action: "power", Status: StatusSent}))
	assert.NoError(t, j.Close())

	j2, err := Open(path)
	assert.NoError(t, err)
	defer j2.Close()

	entries, err := j2.Recent(10)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}
