package db

import (
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			user:     "root",
			host:     "127.0.0.1",
			port:     3306,
			database: "switchboard",
			want:     "root@tcp(127.0.0.1:3306)/switchboard?parseTime=true",
		},
		{
			name:     "with password",
			user:     "sb",
			password: "hunter2",
			host:     "10.0.0.5",
			port:     3307,
			database: "switchboard_acme",
			want:     "sb:hunter2@tcp(10.0.0.5:3307)/switchboard_acme?parseTime=true",
		},
		{
			name: "admin without database",
			user: "root",
			host: "db.vpc.internal",
			port: 3306,
			want: "root@tcp(db.vpc.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.user, tt.password, tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_ParseTimeFlag(t *testing.T) {
	dsn := DSN("root", "", "localhost", 3306, "test")
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN missing parseTime=true: %s", dsn)
	}
}

func TestAllModels_Count(t *testing.T) {
	models := AllModels()
	if len(models) != 5 {
		t.Errorf("AllModels() returned %d models, want 5", len(models))
	}
}

func TestAutoMigrate_Sqlite(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for _, table := range []string{"contexts", "messages", "intake_links", "coas", "readiness_snapshots"} {
		if !gormDB.Migrator().HasTable(table) {
			t.Errorf("table %s not created", table)
		}
	}
}
