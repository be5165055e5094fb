package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/testutil"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newSession returns an in-memory session state on a fixed clock.
func newSession(t *testing.T) (*clientstate.State, *testutil.StubClock) {
	t.Helper()
	clk := testutil.FixedClock()
	m := clientstate.NewManager(clientstate.Options{Clock: clk, Logger: testLogger})
	t.Cleanup(m.Close)
	st, err := m.Get(clientstate.NewSessionID())
	require.NoError(t, err)
	return st, clk
}

const testPDF = "%PDF-1.7\n1 0 obj << >> endobj\n%%EOF\n"

var testPNG = []byte("\x89PNG\r\n\x1a\nfake-image-data")

type fakeRenderer struct {
	png   []byte
	err   error
	calls int
}

func (f *fakeRenderer) Thumbnail(ctx context.Context, pdf io.Reader) ([]byte, error) {
	f.calls++
	if _, err := io.ReadAll(pdf); err != nil {
		return nil, err
	}
	return f.png, f.err
}
