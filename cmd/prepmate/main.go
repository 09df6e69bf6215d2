package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/bdobrica/prepmate/common/environment"
	"github.com/bdobrica/prepmate/common/version"
	"github.com/bdobrica/prepmate/internal/prepmate/app"
	"github.com/bdobrica/prepmate/internal/prepmate/llm"
	"github.com/bdobrica/prepmate/internal/prepmate/matrix"
	"github.com/bdobrica/prepmate/internal/prepmate/observability"
)

func main() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	env := environment.New("PREPMATE")
	config := loadConfig(env)

	observability.Setup(
		env.StringOr("LOG_LEVEL", "info"),
		env.StringOr("LOG_FORMAT", "text"),
		config.Matrix.AccessToken, config.LLM.APIKey,
	)
	slog.Info("prepmate starting", "version", version.Info())

	for name, value := range map[string]string{
		"MATRIX_HOMESERVER":   config.Matrix.Homeserver,
		"MATRIX_USER_ID":      config.Matrix.UserID,
		"MATRIX_ACCESS_TOKEN": config.Matrix.AccessToken,
	} {
		if value == "" {
			fmt.Fprintf(os.Stderr, "Error: %s is required\n", env.Name(name))
			os.Exit(1)
		}
	}

	bot, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize prepmate: %v\n", err)
		os.Exit(1)
	}
	defer bot.Stop()

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running prepmate: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv seeds the environment from PREPMATE_ENV_FILE, or ./.env when
// it exists. Variables already set win.
func loadDotEnv() error {
	path := environment.StringOr("PREPMATE_ENV_FILE", ".env")
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == ".env" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the bot configuration from the environment.
func loadConfig(env environment.Source) *app.Config {
	apiKey := env.StringOr("LLM_API_KEY", environment.StringOr("OPENAI_API_KEY", ""))

	return &app.Config{
		DatabasePath: env.StringOr("DB_PATH", "./prepmate.db"),
		PolicyPath:   env.StringOr("POLICY_PATH", "./policy.yaml"),
		HTTPAddr:     env.StringOr("HTTP_ADDR", ""),
		Matrix: matrix.Config{
			Homeserver:   env.StringOr("MATRIX_HOMESERVER", ""),
			UserID:       env.StringOr("MATRIX_USER_ID", ""),
			AccessToken:  env.StringOr("MATRIX_ACCESS_TOKEN", ""),
			AllowedRooms: env.StringSliceOr("MATRIX_ALLOWED_ROOMS", nil),
			AutoJoin:     env.BoolOr("MATRIX_AUTO_JOIN", true),
		},
		LLM: llm.OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: env.StringOr("LLM_BASE_URL", ""),
			Model:   env.StringOr("LLM_MODEL", ""),
			Timeout: env.DurationOr("LLM_TIMEOUT", 0),
		},
		ClassifierModel: env.StringOr("CLASSIFIER_MODEL", ""),
		ChecklistModel:  env.StringOr("CHECKLIST_MODEL", "gpt-4o"),
		FollowUpModel:   env.StringOr("FOLLOWUP_MODEL", ""),
	}
}
