package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"edusched/internal/attendance"
	"edusched/internal/batch"
	"edusched/internal/config"
	"edusched/internal/enrollment"
	"edusched/internal/queue"
	"edusched/internal/store"
)

// Worker consumes session-generation jobs published on batch
// activation and expands each batch's recurrence into dated sessions.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "edusched:jobs")
	}

	batchRepo := batch.NewRepository(db.Client)
	sessionRepo := attendance.NewSessionRepository(db.Client)
	recordRepo := attendance.NewRecordRepository(db.Client)
	enrRepo := enrollment.NewRepository(db.Client)
	attSvc := attendance.NewService(sessionRepo, recordRepo, enrRepo)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for jobs...")
	for msg := range messages {
		if msg.Type != queue.TypeGenerateSessions {
			continue
		}

		batchID := string(msg.Body)
		log.Printf("generating sessions for batch %s", batchID)

		b, err := batchRepo.Get(ctx, batchID)
		if err != nil {
			log.Printf("fetch batch %s failed: %v", batchID, err)
			continue
		}
		if b == nil {
			log.Printf("batch %s not found, skipping", batchID)
			continue
		}

		// Not a regenerate: re-published batches keep existing sessions
		// and only fill gaps.
		created, err := attSvc.Generate(ctx, *b, false, b.CreatedBy)
		if err != nil {
			log.Printf("generate for batch %s failed: %v", batchID, err)
			continue
		}
		log.Printf("batch %s: %d sessions created", batchID, created)
	}

	log.Println("worker stopped")
}
