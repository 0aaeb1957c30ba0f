package daemon

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/config"
	intsync "github.com/Osvaldoduarte/cosmos-copilot/internal/sync"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations/":
			io.WriteString(w, `{"status":"success","conversations":[
				{"id":"c1","contact_name":"Ana","last_message":"oi","timestamp":1700000000}
			]}`)
		default:
			io.WriteString(w, `[]`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testParams(t *testing.T, backendURL string) Params {
	t.Helper()
	t.Setenv("COSMOS_HOME", t.TempDir())
	cfg := config.Default()
	cfg.API.BaseURL = backendURL
	cfg.Sync.Push = false
	return Params{
		SessionName: "test",
		Program:     "cosmosd",
		Config:      &cfg,
		Logger:      zap.NewNop(),
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	p := testParams(t, "http://localhost:8000")
	require.NoError(t, fx.ValidateApp(Module(p), fx.NopLogger))
}

func TestFxModuleWiring_OpenAIProvider(t *testing.T) {
	p := testParams(t, "http://localhost:8000")
	p.Config.Copilot.Provider = config.ProviderOpenAI
	p.Config.Copilot.APIKey = "sk-test"
	require.NoError(t, fx.ValidateApp(Module(p), fx.NopLogger))
}

func TestDaemonLifecycle(t *testing.T) {
	srv := newBackend(t)
	p := testParams(t, srv.URL)

	var engine *intsync.Engine
	app := fxtest.New(t, Module(p), fx.Populate(&engine))
	app.RequireStart()

	require.Eventually(t, func() bool {
		return len(engine.Conversations()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	rows := engine.Conversations()
	assert.Equal(t, "c1", rows[0].ID)
	assert.Equal(t, "Ana", rows[0].DisplayName)

	app.RequireStop()

	// The lock is released on stop, so a second daemon can start.
	app2 := fxtest.New(t, Module(p))
	app2.RequireStart()
	app2.RequireStop()
}

func TestSecondDaemonFailsWhileLockHeld(t *testing.T) {
	srv := newBackend(t)
	p := testParams(t, srv.URL)

	app := fxtest.New(t, Module(p))
	app.RequireStart()
	defer app.RequireStop()

	p2 := p
	p2.Program = "cosmosctl"
	second := fx.New(Module(p2), fx.NopLogger)
	err := second.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message cache in use by cosmosd")
}
