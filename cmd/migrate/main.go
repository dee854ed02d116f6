package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/classbuddy/ClassBuddyBack/internal/config"
	"github.com/classbuddy/ClassBuddyBack/internal/database"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/repository"
	"github.com/classbuddy/ClassBuddyBack/pkg/utils"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var migrationsDir string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the ClassBuddy messaging schema",
	Long: `Applies or rolls back the SQL migrations and seeds demo accounts.
Running without a subcommand is the same as "migrate up".`,
	SilenceUsage: true,
	RunE:         runUp,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE:  runDown,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or update the demo users from DEFAULT_USER_* and SECOND_USER_*",
	RunE:  runSeed,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "migrations directory (default: searched upward from the working directory)")
	rootCmd.AddCommand(upCmd, downCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runUp(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Println("Migration up successful")
	return nil
}

func runDown(cmd *cobra.Command, _ []string) error {
	m, err := newMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Println("Migration down successful")
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DBUrl == "" {
		return errors.New("DB_URL environment variable is required")
	}

	if err := database.ConnectDB(cfg.DBUrl, cfg.DBMaxConns); err != nil {
		return err
	}
	defer database.CloseDB()

	users := repository.NewUserRepository(database.DB)
	seeds := []struct {
		name, email, password string
	}{
		{cfg.DefaultUserName, cfg.DefaultUserEmail, cfg.DefaultUserPassword},
		{cfg.SecondUserName, cfg.SecondUserEmail, cfg.SecondUserPassword},
	}

	ctx := context.Background()
	seeded := 0
	for _, seed := range seeds {
		if strings.TrimSpace(seed.email) == "" || seed.password == "" {
			continue
		}
		hash, err := utils.HashPassword(seed.password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", seed.email, err)
		}
		user := &models.User{Name: seed.name, Email: seed.email, PasswordHash: hash}
		if err := users.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("seed %s: %w", seed.email, err)
		}
		log.Printf("Seeded user %d <%s>", user.ID, user.Email)
		seeded++
	}

	if seeded == 0 {
		log.Println("No seed users configured; set DEFAULT_USER_EMAIL and DEFAULT_USER_PASSWORD")
	}
	return nil
}

func newMigrator() (*migrate.Migrate, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DBUrl == "" {
		return nil, errors.New("DB_URL environment variable is required")
	}

	migrationsPath := migrationsDir
	if migrationsPath == "" {
		migrationsPath, err = findMigrationsDir()
		if err != nil {
			return nil, err
		}
	}
	absMigrationsPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return nil, err
	}

	return migrate.New("file://"+absMigrationsPath, cfg.DBUrl)
}

func findMigrationsDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidates := []string{}
	current := cwd
	for i := 0; i < 6; i++ {
		candidates = append(candidates, filepath.Join(current, "migrations"))
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
			filepath.Join(exeDir, "..", "..", "migrations"),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.New("migrations directory not found")
}
