package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	container "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testOperator     = "SP000OPERATOR"
	testCounterparty = "SP111COUNTERPARTY"
	testToken        = "SP222TOKEN.asset"
)

var testDBCounter atomic.Int64

// setupTestSqlite creates an in-memory SQLite DB for testing
func setupTestSqlite(t testing.TB) *gorm.DB {
	t.Helper()

	uniqueDSN := fmt.Sprintf("file::memory:test%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(uniqueDSN), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Channel{}, &ChannelSignature{}, &LedgerAccount{}, &LedgerTransaction{}, &QueuedTransfer{}, &WebhookEvent{})
	require.NoError(t, err)

	return db
}

// setupTestPostgres creates a PostgreSQL database using testcontainers
func setupTestPostgres(ctx context.Context, t testing.TB) (*gorm.DB, testcontainers.Container) {
	t.Helper()

	const dbName = "postgres"
	const dbUser = "postgres"
	const dbPassword = "postgres"

	postgresContainer, err := container.Run(ctx,
		"postgres:16-alpine",
		container.WithDatabase(dbName),
		container.WithUsername(dbUser),
		container.WithPassword(dbPassword),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("database system is ready to accept connections"),
				wait.ForListeningPort("5432/tcp"),
			)))
	require.NoError(t, err)
	log.Println("Started container:", postgresContainer.GetContainerID())

	url, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Channel{}, &ChannelSignature{}, &LedgerAccount{}, &LedgerTransaction{}, &QueuedTransfer{}, &WebhookEvent{})
	require.NoError(t, err)

	return db, postgresContainer
}

// setupTestDB chooses SQLite or Postgres based on TEST_DB_DRIVER
func setupTestDB(t testing.TB) (*gorm.DB, func()) {
	t.Helper()

	ctx := context.Background()
	var db *gorm.DB
	var cleanup func()

	switch os.Getenv("TEST_DB_DRIVER") {
	case "postgres":
		log.Println("Using PostgreSQL for testing")
		var pgContainer testcontainers.Container
		db, pgContainer = setupTestPostgres(ctx, t)
		cleanup = func() {
			if pgContainer != nil {
				if err := pgContainer.Terminate(ctx); err != nil {
					log.Printf("Failed to terminate PostgreSQL container: %v", err)
				}
			}
		}
	default:
		db = setupTestSqlite(t)
		cleanup = func() {}
	}

	return db, cleanup
}

// recordingChain is a ChainClient fake that records every broadcast call
// and can be scripted to fail.
type recordingChain struct {
	mu    sync.Mutex
	calls []ContractCall
	err   error
}

func (c *recordingChain) Broadcast(_ context.Context, call ContractCall) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.calls = append(c.calls, call)
	return fmt.Sprintf("0xtx%d", len(c.calls)), nil
}

func (c *recordingChain) Calls() []ContractCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ContractCall(nil), c.calls...)
}

// scriptedFlipper is a CoinFlipper fake returning a fixed result.
type scriptedFlipper struct {
	result string
}

func (f scriptedFlipper) Flip() (string, error) {
	return f.result, nil
}

func newTestSigner(t testing.TB) *Signer {
	t.Helper()

	signer, err := NewSigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	return signer
}

// newTestMachine wires a channel machine on a fresh DB with a recording chain.
func newTestMachine(t testing.TB) (*ChannelMachine, *gorm.DB, *recordingChain, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	chain := &recordingChain{}
	logger := NewLoggerIPFS("root.test")
	disputes := NewDisputeSubmitter(chain, "SP333HUB.channels", testOperator, nil, logger)
	machine := NewChannelMachine(db, testOperator, disputes, nil, logger)
	return machine, db, chain, cleanup
}

func channelEvent(tag string, nonce uint64, balance1, balance2 int64) ChannelEvent {
	return ChannelEvent{
		Event: tag,
		ChannelKey: ChannelKey{
			Principal1: testOperator,
			Principal2: testCounterparty,
			Token:      testToken,
		},
		Channel: ChannelSnapshot{
			Balance1:  decimal.NewFromInt(balance1),
			Balance2:  decimal.NewFromInt(balance2),
			Nonce:     nonce,
			ExpiresAt: 10_000,
		},
	}
}
