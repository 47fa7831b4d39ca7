package intake

import (
	"errors"
	"testing"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Context{}, &models.Message{},
		&models.IntakeLink{}, &models.COA{}, &models.ReadinessSnapshot{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func createContext(t *testing.T, db *gorm.DB, title string) *models.Context {
	t.Helper()
	ctx, err := store.Create(db, "alice", title, store.CreateOpts{})
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	return ctx
}

func TestBridgeFlipsKind(t *testing.T) {
	db := openTestDB(t)
	ctx := createContext(t, db, "new engagement")

	if err := Bridge(db, ctx.ID, "sess-1"); err != nil {
		t.Fatalf("bridge: %v", err)
	}

	got, err := store.Get(db, ctx.ID)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if got.Kind != models.KindIntake {
		t.Errorf("kind = %q, want %q", got.Kind, models.KindIntake)
	}

	is, err := IsIntake(db, ctx.ID)
	if err != nil {
		t.Fatalf("is intake: %v", err)
	}
	if !is {
		t.Error("IsIntake = false after bridge")
	}
}

func TestBridgeIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := createContext(t, db, "intake")

	if err := Bridge(db, ctx.ID, "sess-1"); err != nil {
		t.Fatalf("first bridge: %v", err)
	}
	if err := Bridge(db, ctx.ID, "sess-1"); err != nil {
		t.Fatalf("repeat bridge with same pair: %v", err)
	}

	var count int64
	if err := db.Model(&models.IntakeLink{}).Count(&count).Error; err != nil {
		t.Fatalf("count links: %v", err)
	}
	if count != 1 {
		t.Errorf("link count = %d, want 1", count)
	}
}

func TestBridgeConflicts(t *testing.T) {
	db := openTestDB(t)
	a := createContext(t, db, "a")
	b := createContext(t, db, "b")

	if err := Bridge(db, a.ID, "sess-1"); err != nil {
		t.Fatalf("bridge: %v", err)
	}

	// Same context, different session.
	if err := Bridge(db, a.ID, "sess-2"); !errors.Is(err, ErrConflict) {
		t.Errorf("rebind context to new session: err = %v, want ErrConflict", err)
	}
	// Same session, different context.
	if err := Bridge(db, b.ID, "sess-1"); !errors.Is(err, ErrConflict) {
		t.Errorf("rebind session to new context: err = %v, want ErrConflict", err)
	}
}

func TestBridgeUnknownContext(t *testing.T) {
	db := openTestDB(t)
	if err := Bridge(db, 42, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bridge unknown context: err = %v, want ErrNotFound", err)
	}
}

func TestLookups(t *testing.T) {
	db := openTestDB(t)
	ctx := createContext(t, db, "intake")
	if err := Bridge(db, ctx.ID, "sess-7"); err != nil {
		t.Fatalf("bridge: %v", err)
	}

	sess, err := SessionFor(db, ctx.ID)
	if err != nil {
		t.Fatalf("session for: %v", err)
	}
	if sess != "sess-7" {
		t.Errorf("SessionFor = %q, want sess-7", sess)
	}

	id, err := ContextFor(db, "sess-7")
	if err != nil {
		t.Fatalf("context for: %v", err)
	}
	if id != ctx.ID {
		t.Errorf("ContextFor = %d, want %d", id, ctx.ID)
	}

	if _, err := SessionFor(db, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("SessionFor unknown: err = %v, want ErrNotFound", err)
	}
	if _, err := ContextFor(db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ContextFor unknown: err = %v, want ErrNotFound", err)
	}

	is, err := IsIntake(db, 999)
	if err != nil {
		t.Fatalf("is intake: %v", err)
	}
	if is {
		t.Error("IsIntake = true for unbridged context")
	}
}
