package mongostore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/productlens/barcodeflow/internal/common"
)

// testManager starts a disposable MongoDB container and returns a Manager
// connected to a database unique to this test, so tests never interfere
// with each other even when run in parallel. Skipped under `go test
// -short` since it needs Docker.
func testManager(t *testing.T) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongodb-backed test in -short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongodb container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get mongodb connection string: %v", err)
	}

	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)

	cfg := &common.MongoConfig{URI: uri, Database: dbName}
	mgr, err := NewManager(ctx, common.NewSilentLogger(), cfg)
	if err != nil {
		t.Fatalf("new mongostore manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close(context.Background()) })

	return mgr
}
