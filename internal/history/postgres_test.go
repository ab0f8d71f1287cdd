package history

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPostgres opens a throwaway table on the server named by
// JARVIS_TEST_POSTGRES_URL and drops it afterwards.
func testPostgres(t *testing.T) *PostgresBackend {
	t.Helper()
	url := os.Getenv("JARVIS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("JARVIS_TEST_POSTGRES_URL not set")
	}
	table := "history_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	b, err := OpenPostgres(context.Background(), url, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, err := b.db.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
		assert.NoError(t, err)
		b.Close()
	})
	return b
}

func TestPostgres_RoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testPostgres(t), KindDurable)

	before := time.Now().UTC()
	require.True(t, s.Append(ctx, "c1", RoleUser, "question"))
	require.True(t, s.Append(ctx, "c1", RoleAssistant, "answer"))
	require.True(t, s.Append(ctx, "c2", RoleUser, "elsewhere"))

	got := s.Fetch(ctx, "c1", FetchOptions{})
	require.Len(t, got, 2)
	assert.Equal(t, "question", got[0].Content)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.False(t, got[0].Timestamp.Before(before.Truncate(time.Microsecond)))
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
	assert.Equal(t, "answer", got[1].Content)

	newest := s.Fetch(ctx, "c1", FetchOptions{Limit: 1, Newest: true})
	require.Len(t, newest, 1)
	assert.Equal(t, "answer", newest[0].Content)

	paged := s.Fetch(ctx, "c1", FetchOptions{Limit: 1, Skip: 1})
	require.Len(t, paged, 1)
	assert.Equal(t, "answer", paged[0].Content)
}

func TestPostgres_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	b := testPostgres(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, b.Insert(ctx, NewRecord("c1", RoleUser, c, ts)))
	}

	got, err := b.Query(ctx, "c1", Query{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "one", *got[0].Content)
	assert.Equal(t, "three", *got[2].Content)
	assert.True(t, ts.Equal(*got[0].Timestamp))
}

func TestPostgres_LegacyRows(t *testing.T) {
	ctx := context.Background()
	b := testPostgres(t)
	require.NoError(t, b.Insert(ctx, Record{ConversationID: "old", Type: strPtr("human"), Content: strPtr("hi")}))
	require.NoError(t, b.Insert(ctx, Record{ConversationID: "old", Type: strPtr("ai")}))

	got := NewStore(b, KindDurable).Fetch(ctx, "old", FetchOptions{})
	require.Len(t, got, 2)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, Epoch, got[0].Timestamp)
	assert.Equal(t, RoleAssistant, got[1].Role)
	assert.Equal(t, "", got[1].Content)
}

func TestPostgres_DeleteAndSummaries(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testPostgres(t), KindDurable)
	s.now = fakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	seed(t, s, "a", [2]string{RoleUser, "a1"})
	seed(t, s, "b", [2]string{RoleUser, "b1"}, [2]string{RoleAssistant, "b2"})

	sums := s.RecentConversations(ctx, 10)
	require.Len(t, sums, 2)
	assert.Equal(t, "b", sums[0].ConversationID)
	assert.Equal(t, "b2", sums[0].LatestMessage.Content)
	assert.Equal(t, int64(2), sums[0].MessageCount)

	n, ok := s.DeleteAll(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
	n, ok = s.DeleteAll(ctx, "b")
	require.True(t, ok)
	assert.Zero(t, n)
	assert.Len(t, s.RecentConversations(ctx, 10), 1)
}

func TestPostgres_Search(t *testing.T) {
	ctx := context.Background()
	s := NewStore(testPostgres(t), KindDurable)
	seed(t, s, "a", [2]string{RoleUser, "reset my router password"})
	seed(t, s, "b", [2]string{RoleUser, "what is the weather"})
	seed(t, s, "c", [2]string{RoleUser, "router firmware and router logs"})

	hits := s.Search(ctx, `router "quotes"`, 10)
	require.Len(t, hits, 2)
	assert.ElementsMatch(t, []string{"a", "c"}, []string{hits[0].ConversationID, hits[1].ConversationID})
	assert.Positive(t, hits[0].Score)

	s.DeleteAll(ctx, "c")
	hits = s.Search(ctx, "router", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ConversationID)
}

func TestOpenPostgres_RejectsBadTable(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://localhost/none", "drop table;")
	require.Error(t, err)
}
