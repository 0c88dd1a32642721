package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"gorm.io/gorm"

	"guildwarden/internal/config"
	"guildwarden/internal/models"
	"guildwarden/internal/storage"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "Path to configuration file")
	action := pflag.StringP("action", "a", "migrate", "Action to perform (migrate, reset, status)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Database.Driver == config.DriverBolt {
		log.Fatalf("The bolt driver has no schema to migrate")
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	switch *action {
	case "migrate":
		if err := migrateDatabase(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migration completed successfully")
	case "reset":
		if err := resetDatabase(db); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		log.Println("Database reset completed successfully")
	case "status":
		if err := checkStatus(db); err != nil {
			log.Fatalf("Status check failed: %v", err)
		}
	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func migrateDatabase(db *gorm.DB) error {
	fmt.Println("Migrating database...")
	return storage.Migrate(db)
}

// resetDatabase drops tables and recreates them
func resetDatabase(db *gorm.DB) error {
	fmt.Println("Resetting database...")

	fmt.Print("WARNING: This will delete all moderation records! Are you sure? (y/N): ")
	var confirmation string
	fmt.Scanln(&confirmation)

	if confirmation != "y" && confirmation != "Y" {
		return fmt.Errorf("operation cancelled by user")
	}

	if err := db.Migrator().DropTable(&storage.UserRow{}, &models.GuildConfig{}); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}

	return migrateDatabase(db)
}

func checkStatus(db *gorm.DB) error {
	fmt.Println("Checking database status...")

	tables := []struct {
		name  string
		model interface{}
	}{
		{"GuildConfig", &models.GuildConfig{}},
		{"UserRow", &storage.UserRow{}},
	}
	for _, t := range tables {
		if !db.Migrator().HasTable(t.model) {
			fmt.Printf("❌ %s table does not exist\n", t.name)
			continue
		}
		var count int64
		if err := db.Model(t.model).Count(&count).Error; err != nil {
			return fmt.Errorf("count %s: %w", t.name, err)
		}
		fmt.Printf("✅ %s table exists\n   - Contains %d records\n", t.name, count)
	}

	if db.Migrator().HasTable(&storage.UserRow{}) {
		jailed, err := storage.NewUserRepository(db).JailedByGuild(context.Background())
		if err != nil {
			return fmt.Errorf("count jailed members: %w", err)
		}
		var total int64
		for guildID, n := range jailed {
			fmt.Printf("   - Guild %s: %d members jailed\n", guildID, n)
			total += n
		}
		fmt.Printf("   - %d members currently jailed\n", total)
	}

	return nil
}
