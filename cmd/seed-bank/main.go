package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/database"
	"github.com/logitest/attempt-service/internal/logger"
	"github.com/logitest/attempt-service/internal/repository"
)

func main() {
	file := flag.String("file", "", "path to a question bank JSON file (defaults to QUESTION_BANK_FILE)")
	prewarm := flag.Bool("prewarm", true, "refresh the Redis question cache after importing")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "attempt-seed-bank")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	path := *file
	if path == "" {
		path = cfg.QuestionBankFile
	}
	if path == "" {
		log.Fatal().Msg("No question bank given; pass -file or set QUESTION_BANK_FILE")
	}

	bank, err := repository.ReadQuestionBankFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read question bank")
	}
	fmt.Printf("=== Importing %d tests, %d questions from %s ===\n", len(bank.Tests), len(bank.Questions), path)

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	repo := repository.NewQuestionBankRepository(pool)
	if err := repo.Import(ctx, bank.Tests, bank.Questions); err != nil {
		log.Fatal().Err(err).Msg("Failed to import question bank")
	}

	for _, t := range bank.Tests {
		state := "active"
		if !t.IsActive {
			state = "inactive"
		}
		fmt.Printf("  %s  %-32s %3d questions  %s\n", t.ID, t.Name, t.TotalQuestions, state)
	}

	if *prewarm {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable; cache left to expire")
		} else {
			defer rdb.Close()
			cache := repository.NewCachedQuestionBank(repo, rdb, cfg.QuestionCacheTTL, log)
			if err := cache.PrewarmActiveTests(ctx); err != nil {
				log.Warn().Err(err).Msg("Cache prewarm failed")
			}
		}
	}

	fmt.Println("=== Done ===")
}
