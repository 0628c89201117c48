package app

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/require"

	actx "go.hackfix.me/roster/app/context"
	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/docdb"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

const testConfig = `{
  "lock": {"stale_after": "5m"},
  "seed": {"admin_password": "hunter2"}
}`

type testApp struct {
	*App
	stdout, stderr *safeBuffer
	env            *mockEnv
	fs             vfs.FileSystem
	db             *db.DB
	store          *docdb.Memory
}

// newTestApp returns an application backed by an in-memory SQLite database,
// an in-memory document store and an in-memory filesystem holding the
// configuration file.
func newTestApp(t *testing.T, opts ...Option) *testApp {
	t.Helper()

	// A unique name per app, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	d, err := db.Open(t.Context(), types.DialectSQLite,
		fmt.Sprintf("file:roster-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	fs := memoryfs.New()
	require.NoError(t, vfs.WriteFile(fs, "/config.json", []byte(testConfig), 0o644))

	var (
		stdoutW, stderrW = newSafeBuffer(), newSafeBuffer()
		store            = docdb.NewMemory()
		env              = &mockEnv{env: map[string]string{}}
	)

	opts = append([]Option{
		WithTimeNow(timeNowFn),
		WithEnv(env),
		WithDB(d),
		WithDocStore(store),
		WithContext(t.Context()),
		WithFDs(strings.NewReader(""), stdoutW, stderrW),
		WithFS(fs),
		WithLogger(false, false),
	}, opts...)
	app, err := New("roster", "/config.json", "/data", opts...)
	require.NoError(t, err)

	return &testApp{
		App: app, stdout: stdoutW, stderr: stderrW, env: env,
		fs: fs, db: d, store: store,
	}
}

// Run executes the command given by args, discarding the output of previous
// runs.
func (ta *testApp) Run(args ...string) error {
	ta.stdout.Reset()
	ta.stderr.Reset()

	return ta.App.Run(args)
}

type mockEnv struct {
	mx  sync.RWMutex
	env map[string]string
}

var _ actx.Environment = (*mockEnv)(nil)

func (me *mockEnv) Get(key string) string {
	me.mx.RLock()
	defer me.mx.RUnlock()
	return me.env[key]
}

func (me *mockEnv) Set(key, val string) error {
	me.mx.Lock()
	defer me.mx.Unlock()
	me.env[key] = val
	return nil
}

// safeBuffer is a thread-safe buffer.
type safeBuffer struct {
	mx  sync.RWMutex
	buf *bytes.Buffer
}

var _ io.Writer = (*safeBuffer)(nil)

func newSafeBuffer() *safeBuffer {
	return &safeBuffer{buf: &bytes.Buffer{}}
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.buf.Reset()
}

func (b *safeBuffer) String() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.buf.String()
}
