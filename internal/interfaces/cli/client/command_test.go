package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/config"
	"github.com/orris-inc/adfree/internal/infrastructure/migration"
	httpRouter "github.com/orris-inc/adfree/internal/interfaces/http"
	sharedConfig "github.com/orris-inc/adfree/internal/shared/config"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

const testSecret = "client-test-secret"

const fixtureYAML = `products:
  - id: adfree.lifetime
    title: Ad-free forever
    price: "9.99"
    currency: USD
accounts:
  carol:
    - transaction_id: old-0001
      product_id: adfree.lifetime
      active: true
      purchased_at: 2025-06-01T12:00:00Z
`

// newAuthority starts an authority backed by in-memory SQLite and no Redis.
func newAuthority(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	log := logger.NewNopLogger()
	require.NoError(t, migration.NewGormAutoMigrateStrategy(log, migration.BackendModels()...).Migrate(db))

	cfg := &config.Config{
		Auth: sharedConfig.AuthConfig{JWT: sharedConfig.JWTConfig{
			Secret:           testSecret,
			Issuer:           "adfree",
			AccessExpMinutes: 15,
		}},
	}
	server := httptest.NewServer(httpRouter.NewContainer(db, nil, cfg, log).Engine())
	t.Cleanup(server.Close)
	return server.URL
}

func writeConfig(t *testing.T, authorityURL string) string {
	t.Helper()
	dir := t.TempDir()

	fixture := filepath.Join(dir, "sandbox.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(fixtureYAML), 0o600))

	cfg := fmt.Sprintf(`logger:
  level: error
  output_path: stderr
auth:
  jwt:
    secret: %s
    issuer: adfree
    access_exp_minutes: 15
redis:
  host: 127.0.0.1
  port: 1
cache:
  driver: sqlite
  path: %s
  ttl: 1h
remote:
  base_url: %s
  fetch_timeout: 2s
  verify_timeout: 2s
  retry_max_elapsed: 1ms
store:
  driver: sandbox
  fixture: %s
products:
  lifetime:
    - adfree.lifetime
reconcile:
  revalidate_interval: 1h
`, testSecret, filepath.Join(dir, "cache.db"), authorityURL, fixture)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	t.Setenv("ENV", "")
	cmd := NewCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return out, cmd.Execute()
}

func decodeView(t *testing.T, out *bytes.Buffer) entitlement.View {
	t.Helper()
	var view entitlement.View
	require.NoError(t, json.NewDecoder(out).Decode(&view))
	return view
}

func TestClient_GuestIsNeverEntitled(t *testing.T) {
	configPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := execute(t, "status", "--config", configPath)
	require.NoError(t, err)
	view := decodeView(t, out)
	assert.Equal(t, entitlement.StatusNotEntitled, view.Status)
	assert.Equal(t, entitlement.SourceNone, view.Source)

	_, err = execute(t, "purchase", "adfree.lifetime", "--config", configPath)
	assert.ErrorIs(t, err, entitlement.ErrGuestNotAllowed)
}

func TestClient_PurchaseThenStatusFromAuthority(t *testing.T) {
	configPath := writeConfig(t, newAuthority(t))

	out, err := execute(t, "status", "--config", configPath, "--user", "dave")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusNotEntitled, decodeView(t, out).Status)

	out, err = execute(t, "purchase", "adfree.lifetime", "--config", configPath, "--user", "dave")
	require.NoError(t, err)
	view := decodeView(t, out)
	assert.Equal(t, entitlement.StatusEntitled, view.Status)
	assert.Equal(t, entitlement.SourceRemote, view.Source)

	out, err = execute(t, "refresh", "--config", configPath, "--user", "dave")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusEntitled, decodeView(t, out).Status)
}

func TestClient_RestoreFromStoreHistory(t *testing.T) {
	configPath := writeConfig(t, newAuthority(t))

	out, err := execute(t, "restore", "--config", configPath, "--user", "carol")
	require.NoError(t, err)
	view := decodeView(t, out)
	assert.Equal(t, entitlement.StatusEntitled, view.Status)
	assert.Equal(t, entitlement.SourceRemote, view.Source)
}

func TestClient_UnreachableAuthorityFailsClosed(t *testing.T) {
	configPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := execute(t, "refresh", "--config", configPath, "--user", "erin")
	require.Error(t, err)
	view := decodeView(t, out)
	assert.Equal(t, entitlement.StatusNotEntitled, view.Status)
}

func TestClient_ProductsListsCatalog(t *testing.T) {
	configPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := execute(t, "products", "--config", configPath, "--user", "dave")
	require.NoError(t, err)

	var catalog entitlement.Catalog
	require.NoError(t, json.NewDecoder(out).Decode(&catalog))
	require.Len(t, catalog, 1)
	assert.Equal(t, "adfree.lifetime", catalog[0].ID)
}
