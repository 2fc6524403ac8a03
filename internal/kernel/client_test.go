package kernel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mntdata/internal/kernel/kerneltest"
	"github.com/mattjoyce/mntdata/internal/protocol"
)

func newClient(t *testing.T, gw *kerneltest.Gateway, cfg Config) *Client {
	t.Helper()
	cfg.URL = gw.URL
	c, err := New(cfg, WithHTTPClient(gw.Client()))
	require.NoError(t, err)
	return c
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{URL: "ftp://gateway"})
	assert.Error(t, err)

	c, err := New(Config{URL: "http://gateway:8888"})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, c.Timeout())
	assert.Equal(t, "http://gateway:8888/api/kernels", c.endpoint("api/kernels").String())
}

func TestEndpointKeepsBasePath(t *testing.T) {
	c, err := New(Config{URL: "https://host/gateway"})
	require.NoError(t, err)
	assert.Equal(t, "https://host/gateway/api/kernelspecs", c.endpoint("api/kernelspecs").String())
}

func TestExecuteCollectsOutput(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()
	gw.Token = "secret"
	gw.OnExecute = func(code string) kerneltest.Reply {
		return kerneltest.Reply{
			Stdout:   "hello\n",
			Stderr:   "warning\n",
			Results:  []string{"42"},
			ImagePNG: "iVBORw0KGgo=",
		}
	}

	c := newClient(t, gw, Config{Token: "secret", Username: "tester"})
	out, err := c.Execute(context.Background(), "print('hello')")
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Stdout)
	assert.Equal(t, "warning", out.Stderr)
	assert.Equal(t, "42\ndata:image/png;base64,iVBORw0KGgo=", out.Result)
	assert.Equal(t, "ok", out.Status)
	assert.NotContains(t, out.Stdout, "not yours")

	assert.Equal(t, []string{"print('hello')"}, gw.Codes())
	require.Len(t, gw.Envs(), 1)
	assert.Equal(t, "tester", gw.Envs()[0]["KERNEL_USERNAME"])
	assert.NotEmpty(t, gw.Envs()[0]["KERNEL_ID"])

	require.Eventually(t, func() bool { return len(gw.Deleted()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, gw.Created(), gw.Deleted())
}

func TestExecuteReportsTraceback(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()
	gw.OnExecute = func(string) kerneltest.Reply {
		return kerneltest.Reply{Error: &protocol.Error{
			EName:     "FileNotFoundError",
			EValue:    "missing",
			Traceback: []string{"Traceback (most recent call last):", "FileNotFoundError: missing"},
		}}
	}

	c := newClient(t, gw, Config{})
	out, err := c.Execute(context.Background(), "open('x')")
	require.NoError(t, err)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "Traceback (most recent call last):\nFileNotFoundError: missing", out.Stderr)
}

func TestExecuteRunsInitCodeFirst(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()
	gw.OnExecute = func(code string) kerneltest.Reply {
		if strings.HasPrefix(code, "import matplotlib") {
			return kerneltest.Reply{Stdout: "init done"}
		}
		return kerneltest.Reply{Stdout: "user"}
	}

	c := newClient(t, gw, Config{InitCode: "import matplotlib", ReadyTimeout: time.Second})
	out, err := c.Execute(context.Background(), "print('user')")
	require.NoError(t, err)
	assert.Equal(t, "user", out.Stdout)
	assert.Equal(t, []string{"import matplotlib", "print('user')"}, gw.Codes())
}

func TestExecuteTimeout(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()
	gw.OnExecute = func(string) kerneltest.Reply { return kerneltest.Reply{Hang: true} }

	c := newClient(t, gw, Config{Timeout: 100 * time.Millisecond})
	start := time.Now()
	out, err := c.Execute(context.Background(), "while True: pass")
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrTimeout), "err = %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Eventually(t, func() bool { return len(gw.Deleted()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteCallerDeadlineWins(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()
	gw.OnExecute = func(string) kerneltest.Reply { return kerneltest.Reply{Hang: true} }

	c := newClient(t, gw, Config{Timeout: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Execute(ctx, "while True: pass")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecuteRejectedToken(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()
	gw.Token = "right"

	c := newClient(t, gw, Config{Token: "wrong"})
	_, err := c.Execute(context.Background(), "1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "start kernel")
}

func TestExecuteUnreachableGateway(t *testing.T) {
	gw := kerneltest.New()
	url := gw.URL
	gw.Close()

	c, err := New(Config{URL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), "1")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	gw := kerneltest.New()
	defer gw.Close()

	c := newClient(t, gw, Config{})
	assert.NoError(t, c.Ping(context.Background()))
}
