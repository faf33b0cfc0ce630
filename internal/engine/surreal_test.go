//go:build integration

// Integration tests for the SurrealDB backend. They spin up a real server
// in a container:
//
//	go test -tags integration ./internal/engine/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var surrealEng Engine

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	surrealEng, err = Open(Config{
		Backend:          BackendSurreal,
		SurrealURL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		SurrealNamespace: "test",
		SurrealDatabase:  "test",
		SurrealUser:      "root",
		SurrealPass:      "root",
	})
	if err != nil {
		log.Fatalf("Failed to open surreal engine: %v", err)
	}

	code := m.Run()

	_ = surrealEng.Close()
	_ = container.Terminate(ctx)

	os.Exit(code)
}

func TestSurrealCRUD(t *testing.T) {
	ctx := context.Background()

	if err := surrealEng.CreateTableIfNotExists(ctx, "crud"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	if err := surrealEng.Insert(ctx, "crud", Record{"id": "a", "name": "alpha", "is_deleted": false}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := surrealEng.Get(ctx, "crud", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["name"] != "alpha" {
		t.Errorf("got name %v, want alpha", got["name"])
	}
	if got["id"] != "a" {
		t.Errorf("got id %v, want a", got["id"])
	}

	if err := surrealEng.Update(ctx, "crud", "a", Record{"id": "a", "name": "beta", "is_deleted": false}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = surrealEng.Get(ctx, "crud", "a")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got["name"] != "beta" {
		t.Errorf("got name %v after update, want beta", got["name"])
	}

	if err := surrealEng.Delete(ctx, "crud", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := surrealEng.Get(ctx, "crud", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: error = %v, want ErrNotFound", err)
	}
}

func TestSurrealQuery(t *testing.T) {
	ctx := context.Background()

	if err := surrealEng.CreateTableIfNotExists(ctx, "query"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := surrealEng.CreateIndexIfNotExists(ctx, "query", "kind"); err != nil {
		t.Fatalf("create index: %v", err)
	}

	seed := []Record{
		{"id": "1", "kind": "note", "rank": float64(2), "is_deleted": false},
		{"id": "2", "kind": "note", "rank": float64(1), "is_deleted": false},
		{"id": "3", "kind": "page", "rank": float64(3), "is_deleted": false},
	}
	for _, rec := range seed {
		if err := surrealEng.Insert(ctx, "query", rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	defer func() {
		for _, rec := range seed {
			_ = surrealEng.Delete(ctx, "query", rec["id"].(string))
		}
	}()

	recs, err := surrealEng.Query(ctx, "query", []Filter{
		Eq("kind", "note"),
		Eq("is_deleted", false),
	}, QueryOptions{OrderBy: "rank"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0]["id"] != "2" || recs[1]["id"] != "1" {
		t.Errorf("got order %v, %v; want 2, 1", recs[0]["id"], recs[1]["id"])
	}

	recs, err = surrealEng.Query(ctx, "query", []Filter{Ne("kind", "note")}, QueryOptions{})
	if err != nil {
		t.Fatalf("query ne: %v", err)
	}
	if len(recs) != 1 || recs[0]["id"] != "3" {
		t.Errorf("ne query = %v, want id 3", recs)
	}
}
