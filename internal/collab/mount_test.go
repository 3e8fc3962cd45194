package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMount_ConnectsAndPublishesPresence(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	m := r.Mount(MountOptions{Room: "session_1_team_1", UserName: "Ada"})
	p := f.built[0]

	connects, _, _ := p.stats()
	assert.Equal(t, 1, connects)
	assert.Equal(t, PresenceFor("Ada"), p.awareness.LocalState()["user"])
	assert.Same(t, m.Session(), r.Acquire("session_1_team_1"))
}

func TestMount_SeedsOnceOnFirstSync(t *testing.T) {
	r, f, m := newTestRegistry(t)

	mount := r.Mount(MountOptions{Room: "team_1", UserName: "Ada", PriorContent: "draft from last week"})
	p := f.built[0]
	doc := mount.Session().Document
	assert.True(t, doc.IsEmpty(), "nothing is seeded before sync")

	p.fireSync(false)
	assert.True(t, doc.IsEmpty())

	p.fireSync(true)
	p.fireSync(true)
	assert.Equal(t, []Node{{Type: NodeParagraph, Text: "draft from last week"}}, doc.Snapshot())
	assert.True(t, mount.Seeded())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollabSeeds))
}

func TestMount_NoSeedWhenDocumentHasContent(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	mount := r.Mount(MountOptions{Room: "team_1", UserName: "Ada", PriorContent: "old"})
	doc := mount.Session().Document
	require.NoError(t, doc.ApplySnapshot([]Node{{Type: NodeParagraph, Text: "server copy"}}))

	f.built[0].fireSync(true)
	assert.False(t, mount.Seeded())
	assert.Equal(t, "server copy", doc.Text())
}

func TestMount_NoSeedWithoutPriorContent(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	mount := r.Mount(MountOptions{Room: "team_1", UserName: "Ada"})
	f.built[0].fireSync(true)
	assert.False(t, mount.Seeded())
	assert.True(t, mount.Session().Document.IsEmpty())
}

func TestMount_SeedGuardIsPerMountButInsertsOnce(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	a := r.Mount(MountOptions{Room: "team_1", UserName: "Ada", PriorContent: "seed"})
	b := r.Mount(MountOptions{Room: "team_1", UserName: "Grace", PriorContent: "seed"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.built[0].fireSync(true)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, a.Session().Document.Len(), "concurrent syncs never double insert")
	assert.True(t, a.Seeded() != b.Seeded(), "exactly one mount seeds")
}

func TestMount_AlreadySyncedSeedsImmediately(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	first := r.Mount(MountOptions{Room: "team_1", UserName: "Ada"})
	f.built[0].fireSync(true)
	first.Unmount()

	// Remount inside the grace window: the provider reconnects; mark it
	// synced before the second mount looks.
	p := f.built[0]
	p.mu.Lock()
	p.synced = true
	p.mu.Unlock()

	second := r.Mount(MountOptions{Room: "team_1", UserName: "Ada", PriorContent: "prior"})
	assert.True(t, second.Seeded())
	assert.Same(t, first.Session(), second.Session())
}

func TestMount_UnmountDisconnectsOnlyLastMount(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	a := r.Mount(MountOptions{Room: "team_1", UserName: "Ada"})
	b := r.Mount(MountOptions{Room: "team_1", UserName: "Grace"})
	p := f.built[0]
	assert.Equal(t, 2, p.listenerCount())

	a.Unmount()
	a.Unmount()
	_, disconnects, _ := p.stats()
	assert.Equal(t, 0, disconnects)
	assert.Equal(t, 1, r.RefCount("team_1"))
	assert.Equal(t, 1, p.listenerCount())

	b.Unmount()
	_, disconnects, destroyed := p.stats()
	assert.Equal(t, 1, disconnects)
	assert.False(t, destroyed, "destruction belongs to the grace timer")
	assert.Equal(t, 0, p.listenerCount())

	require.Eventually(t, func() bool {
		_, _, destroyed := p.stats()
		return destroyed
	}, time.Second, 5*time.Millisecond)
}

func TestMount_RemountWithinGraceReconnectsSamePair(t *testing.T) {
	r, f, _ := newTestRegistry(t)

	a := r.Mount(MountOptions{Room: "team_1", UserName: "Ada"})
	a.Unmount()
	b := r.Mount(MountOptions{Room: "team_1", UserName: "Ada"})

	assert.Same(t, a.Session(), b.Session())
	assert.Equal(t, 1, f.count())
	connects, disconnects, _ := f.built[0].stats()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)

	time.Sleep(2 * grace)
	assert.False(t, b.Session().Document.Destroyed())
}
