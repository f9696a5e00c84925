package module

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"hubgrep/internal/modkit"
	"hubgrep/internal/platform/config"
	"hubgrep/internal/platform/logger"
	phttp "hubgrep/internal/platform/net/http"
	"hubgrep/internal/services/crawl/domain"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	t.Setenv("CRAWLER_INDEXER_URL", "https://indexer.example.com")
	return New(modkit.Deps{Log: *logger.Get(), Cfg: config.New()})
}

func TestNew_WiresPorts(t *testing.T) {
	m := newTestModule(t)

	if m.Name() != "crawl" {
		t.Fatalf("name = %q", m.Name())
	}

	ports, ok := m.Ports().(Ports)
	if !ok {
		t.Fatalf("ports type = %T", m.Ports())
	}
	if ports.Worker == nil || ports.Indexer == nil || ports.Status == nil {
		t.Fatalf("ports incomplete: %+v", ports)
	}
}

func TestMountRoutes_ServesStatus(t *testing.T) {
	var mod modkit.Module = newTestModule(t)

	r := phttp.AdaptChi(chi.NewRouter())
	mod.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var env struct {
		Data domain.StatusSnapshot `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v\n%s", err, rr.Body.String())
	}
	if env.Data.Running {
		t.Fatal("fresh worker must report not running")
	}
	if env.Data.BlocksDone != 0 || env.Data.BlockUID != "" {
		t.Fatalf("snapshot = %+v", env.Data)
	}
}
