package firestoredir

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"PermissionDeniedは拒否", status.Error(codes.PermissionDenied, "rules"), directory.ErrPermissionDenied},
		{"Unauthenticatedも拒否", status.Error(codes.Unauthenticated, "token"), directory.ErrPermissionDenied},
		{"NotFound", status.Error(codes.NotFound, "doc"), directory.ErrNotFound},
		{"InvalidArgumentは不正なパス", status.Error(codes.InvalidArgument, "path"), directory.ErrInvalidPath},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tc.err), tc.want)
		})
	}

	t.Run("その他はそのまま", func(t *testing.T) {
		err := status.Error(codes.Unavailable, "down")
		assert.Equal(t, err, mapError(err))
		assert.NoError(t, mapError(nil))
	})
}

func TestToFirestore(t *testing.T) {
	in := directory.Data{
		"createdAt": directory.ServerTimestamp,
		"offer":     directory.Data{"type": "offer", "sdp": "v=0"},
		"list":      []any{directory.ServerTimestamp, "x"},
		"answer":    nil,
	}

	out := toFirestore(in)

	assert.Equal(t, firestore.ServerTimestamp, out["createdAt"])
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0"}, out["offer"])
	assert.Equal(t, []any{firestore.ServerTimestamp, "x"}, out["list"])
	v, ok := out["answer"]
	assert.True(t, ok)
	assert.Nil(t, v)

	assert.Equal(t, map[string]any{}, toFirestore(nil))
}

func TestFromFirestore(t *testing.T) {
	now := time.Now()
	data := fromFirestore(map[string]any{
		createdField: now,
		"offer":      map[string]any{"sdp": "v=0"},
	})

	assert.NotContains(t, data, createdField)
	assert.Equal(t, directory.Data{"sdp": "v=0"}, data["offer"])
}

func TestChangeKind(t *testing.T) {
	assert.Equal(t, directory.ChangeAdded, changeKind(firestore.DocumentAdded))
	assert.Equal(t, directory.ChangeModified, changeKind(firestore.DocumentModified))
	assert.Equal(t, directory.ChangeRemoved, changeKind(firestore.DocumentRemoved))
}

func TestOrderByCreated(t *testing.T) {
	base := time.Now()
	change := func(id string) directory.Change {
		return directory.Change{Kind: directory.ChangeAdded, Doc: directory.Document{ID: id}}
	}
	ids := func(in []directory.Change) []string {
		out := make([]string, 0, len(in))
		for _, c := range in {
			out = append(out, c.Doc.ID)
		}
		return out
	}

	t.Run("作成時刻順に並ぶ", func(t *testing.T) {
		got := orderByCreated([]stampedChange{
			{change: change("b"), created: base.Add(2 * time.Second), stamped: true},
			{change: change("a"), created: base.Add(time.Second), stamped: true},
			{change: change("c"), created: base.Add(3 * time.Second), stamped: true},
		})
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	})

	t.Run("時刻のない変更は落とされず末尾に並ぶ", func(t *testing.T) {
		got := orderByCreated([]stampedChange{
			{change: change("web1")},
			{change: change("x"), created: base, stamped: true},
			{change: change("web2")},
		})
		assert.Equal(t, []string{"x", "web1", "web2"}, ids(got))
	})

	t.Run("同じ時刻は入力順を保つ", func(t *testing.T) {
		got := orderByCreated([]stampedChange{
			{change: change("z"), created: base, stamped: true},
			{change: change("y"), created: base, stamped: true},
		})
		assert.Equal(t, []string{"z", "y"}, ids(got))
	})
}

// TestStore_Emulator runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set.
func TestStore_Emulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST is not set")
	}

	ctx := context.Background()
	s, err := New(ctx, "mirror-test", nil)
	require.NoError(t, err)
	defer s.Close()

	collection := "connections-" + xid.New().String()

	id, err := s.Create(ctx, collection, directory.Data{"status": "offering", "createdAt": directory.ServerTimestamp})
	require.NoError(t, err)

	t.Run("Createしたドキュメントを取得できる", func(t *testing.T) {
		doc, err := s.Get(ctx, directory.Join(collection, id))
		require.NoError(t, err)
		assert.True(t, doc.Exists)
		assert.Equal(t, "offering", doc.Data["status"])
		assert.IsType(t, time.Time{}, doc.Data["createdAt"])
		assert.NotContains(t, doc.Data, createdField)
	})

	t.Run("存在しないドキュメントはExists=false", func(t *testing.T) {
		doc, err := s.Get(ctx, directory.Join(collection, "missing"))
		require.NoError(t, err)
		assert.False(t, doc.Exists)
	})

	t.Run("存在しないドキュメントのUpdateはErrNotFound", func(t *testing.T) {
		err := s.Update(ctx, directory.Join(collection, "missing"), directory.Data{"status": "x"})
		assert.ErrorIs(t, err, directory.ErrNotFound)
	})

	t.Run("購読で変更が届く", func(t *testing.T) {
		ch, unsubscribe, err := s.SubscribeDocument(ctx, directory.Join(collection, id))
		require.NoError(t, err)
		defer unsubscribe()

		next := func() directory.Document {
			select {
			case ev := <-ch:
				require.NoError(t, ev.Err)
				return ev.Doc
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for snapshot")
			}
			return directory.Document{}
		}

		assert.Equal(t, "offering", next().Data["status"])

		require.NoError(t, s.Update(ctx, directory.Join(collection, id), directory.Data{"status": "connected"}))
		assert.Equal(t, "connected", next().Data["status"])

		require.NoError(t, s.Delete(ctx, directory.Join(collection, id)))
		assert.False(t, next().Exists)
	})

	t.Run("コレクション購読は作成順", func(t *testing.T) {
		candidates := directory.Join(collection, id, "callerCandidates")
		for _, c := range []string{"c1", "c2"} {
			_, err := s.Create(ctx, candidates, directory.Data{"candidate": c})
			require.NoError(t, err)
		}

		ch, unsubscribe, err := s.SubscribeCollection(ctx, candidates)
		require.NoError(t, err)
		defer unsubscribe()

		select {
		case ev := <-ch:
			require.NoError(t, ev.Err)
			require.Len(t, ev.Changes, 2)
			assert.Equal(t, "c1", ev.Changes[0].Doc.Data["candidate"])
			assert.Equal(t, "c2", ev.Changes[1].Doc.Data["candidate"])
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	})
}
