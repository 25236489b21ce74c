package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/logfeed/internal/deadletter"
	"github.com/tinytelemetry/logfeed/internal/httpserver"
	"github.com/tinytelemetry/logfeed/internal/loader"
	"github.com/tinytelemetry/logfeed/internal/model"
	"github.com/tinytelemetry/logfeed/internal/objectstore"
	"github.com/tinytelemetry/logfeed/internal/publisher"
)

// runDeps are the external clients a run talks to.
type runDeps struct {
	store       objectstore.Getter
	newProducer func() (publisher.Producer, error)
	deadLetters *deadletter.Journal
	runID       string
}

// run wires real clients and executes one feed or dead-letter replay.
func run(cfg appConfig, replay bool) error {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	store, err := objectstore.New(objectstore.Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		SessionToken: cfg.S3SessionToken,
		UseSSL:       cfg.S3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	deps := runDeps{
		store: store,
		newProducer: func() (publisher.Producer, error) {
			return publisher.NewKafkaProducer(publisher.KafkaConfig{
				Brokers:      cfg.Brokers,
				Topic:        cfg.Topic,
				WriteTimeout: cfg.PublishTimeout,
			})
		},
		runID: uuid.NewString(),
	}

	if cfg.DeadLetterEnabled || replay {
		deps.deadLetters, err = deadletter.Open(cfg.DeadLetterPath)
		if err != nil {
			return fmt.Errorf("failed to open dead-letter journal: %w", err)
		}
		defer deps.deadLetters.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nStopping after the in-flight send... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(cfg.PublishTimeout + 5*time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, deps.runID, replay)

	if replay {
		_, err := replayDeadLetters(ctx, cfg, deps, logger)
		return err
	}
	_, err = runFeed(ctx, cfg, deps, logger)
	return err
}

// runFeed loads the source document and publishes it. It returns a nil report
// when there was nothing to publish.
func runFeed(ctx context.Context, cfg appConfig, deps runDeps, logger *log.Logger) (*publisher.Report, error) {
	ld := loader.New(deps.store, loader.Config{
		Bucket:      cfg.Bucket,
		ObjectKey:   cfg.ObjectKey,
		Policy:      cfg.policy,
		MaxLineSize: cfg.MaxLineSize,
	}, logger)

	if cfg.Stream {
		entries, err := ld.Stream(ctx)
		if err != nil {
			logger.Printf("Error downloading from S3: %v", err)
			logger.Println("No logs found or error downloading from S3")
			return nil, nil
		}
		// The producer is only opened once there is a record to send.
		first, ok := <-entries
		if !ok || first.Err != nil {
			if ok {
				logger.Printf("Error downloading from S3: %v", first.Err)
			}
			logger.Println("No logs found or error downloading from S3")
			return nil, nil
		}
		pub, stop, err := startPublisher(cfg, deps, logger)
		if err != nil {
			return nil, err
		}
		defer stop()
		report := pub.PublishStream(ctx, prependEntry(ctx, first, entries))
		return &report, nil
	}

	batch := ld.Load(ctx)
	if len(batch) == 0 {
		logger.Println("No logs found or error downloading from S3")
		return nil, nil
	}

	pub, stop, err := startPublisher(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	defer stop()
	report := pub.Publish(ctx, batch)
	return &report, nil
}

// prependEntry yields first and then everything from rest.
func prependEntry(ctx context.Context, first model.Entry, rest <-chan model.Entry) <-chan model.Entry {
	out := make(chan model.Entry)
	go func() {
		defer close(out)
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}
		for e := range rest {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// replayDeadLetters republishes uncommitted dead letters under their original
// keys. Records that fail again are re-appended by the publisher, so the
// replayed range is committed once the run completes.
func replayDeadLetters(ctx context.Context, cfg appConfig, deps runDeps, logger *log.Logger) (*publisher.Report, error) {
	if deps.deadLetters == nil {
		return nil, fmt.Errorf("dead-letter journal is not open")
	}
	letters, err := deps.deadLetters.Pending()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	if len(letters) == 0 {
		logger.Println("No dead letters to replay")
		return nil, nil
	}

	entries := make([]model.Entry, len(letters))
	var maxSeq uint64
	for i, l := range letters {
		entries[i] = model.Entry{Index: i, Key: l.Key, Record: l.Record}
		if l.Seq > maxSeq {
			maxSeq = l.Seq
		}
	}
	logger.Printf("Replaying %d dead letters from %s", len(letters), cfg.DeadLetterPath)

	pub, stop, err := startPublisher(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	defer stop()

	report := pub.PublishEntries(ctx, entries)
	if report.Interrupted {
		logger.Println("Replay interrupted; dead letters left uncommitted")
		return &report, nil
	}
	if err := deps.deadLetters.Commit(maxSeq); err != nil {
		return &report, fmt.Errorf("commit dead letters: %w", err)
	}
	return &report, nil
}

// startPublisher connects the producer and, when configured, the status API.
// The returned stop func shuts the status API down.
func startPublisher(cfg appConfig, deps runDeps, logger *log.Logger) (*publisher.Publisher, func(), error) {
	producer, err := deps.newProducer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create producer: %w", err)
	}

	var opts []publisher.Option
	if deps.deadLetters != nil {
		opts = append(opts, publisher.WithDeadLetters(deps.deadLetters))
	}
	pub := publisher.New(producer, publisher.Config{
		Topic:            cfg.Topic,
		PublishTimeout:   cfg.PublishTimeout,
		ThrottleInterval: cfg.ThrottleInterval,
		Concurrency:      cfg.Concurrency,
		RunID:            deps.runID,
	}, logger, opts...)

	stop := func() {}
	if cfg.StatusAddr != "" {
		status := httpserver.NewServer(cfg.StatusAddr, pub, deps.runID)
		if err := status.Start(); err != nil {
			logger.Printf("Warning: failed to start status API: %v", err)
		} else {
			stop = func() { _ = status.Stop() }
		}
	}
	return pub, stop, nil
}
