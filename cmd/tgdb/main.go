package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	cronlib "github.com/robfig/cron/v3"

	"github.com/rdxlab/tgdb/internal/config"
	"github.com/rdxlab/tgdb/internal/embedding"
	"github.com/rdxlab/tgdb/internal/indexengine"
	. "github.com/rdxlab/tgdb/internal/logging"
	"github.com/rdxlab/tgdb/internal/messaging"
	"github.com/rdxlab/tgdb/internal/msgtypes"
	"github.com/rdxlab/tgdb/internal/ocr"
	"github.com/rdxlab/tgdb/internal/record"
	"github.com/rdxlab/tgdb/internal/vectorindex"
)

// Exit codes distinguish startup/config failures from runtime failures so
// a supervising process can tell them apart (§6, §7).
const (
	exitOK           = 0
	exitConfigError  = 1
	exitStartupError = 2
	exitRuntimeError = 3
)

// snapshotCronSpec schedules how often the running vector index is
// flushed to disk while the service is live (§6), expressed as a
// robfig/cron/v3 "@every" spec the same way the teacher's scheduler
// drives its interval jobs (internal/cron/scheduler.go's ScheduleKindEvery).
const snapshotCronSpec = "@every 30s"

// CLI is the top-level command set.
type CLI struct {
	Config string `help:"Path to the JSON configuration file." short:"c" default:"./tgdb.json"`
	Debug  bool   `help:"Enable debug logging." short:"d"`

	Run             RunCmd             `cmd:"" default:"withargs" help:"Listen for new messages and index them as they arrive."`
	Reindex         ReindexCmd         `cmd:"" help:"Backfill a chat's history up to a given message id."`
	Info            InfoCmd            `cmd:"" help:"Print record store and vector index statistics."`
	Ping            PingCmd            `cmd:"" help:"Verify connectivity to the configured messaging platform."`
	UpgradeDatabase UpgradeDatabaseCmd `cmd:"upgradedatabase" help:"Fill in missing image files on stored records and rewrite the vector index snapshot."`
}

// Context carries shared state into every subcommand's Run.
type Context struct {
	cfg *config.Config
}

func main() {
	var cli CLI
	parser := kong.Parse(&cli, kong.Name("tgdb"), kong.Description("Chat message search indexer."))

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, TimeFormat: "15:04:05", ShowCaller: cli.Debug})

	cfg, err := config.Load(cli.Config)
	if err != nil {
		L_error("config load failed", "err", err)
		os.Exit(exitConfigError)
	}

	if err := parser.Run(&Context{cfg: cfg}); err != nil {
		L_error("command failed", "err", err)
		os.Exit(exitRuntimeError)
	}
}

// openEngine wires the record store, vector index, OCR client, embedding
// pipeline, and messaging client per cfg, returning a ready-to-use Engine.
// Callers must call the returned close function before exiting.
func openEngine(cfg *config.Config) (*indexengine.Engine, func(), error) {
	store, err := record.Open(cfg.RecordStore.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open record store: %w", err)
	}

	metric := vectorindex.MetricL2
	if cfg.VectorIndex.Metric == "inner_product" {
		metric = vectorindex.MetricInnerProduct
	}
	index, err := vectorindex.CreateOrLoad(cfg.VectorIndex.Path, cfg.VectorIndex.Dimension, metric)
	if err != nil {
		L_warn("vector index load failed, continuing with vector index disabled", "err", err)
		index = nil
	}

	var ocrClient *ocr.Client
	if cfg.OCRConfig != nil {
		ocrClient = ocr.New(cfg.OCRConfig.APIURL)
	}

	msgClient, err := messaging.NewTelegramClient(cfg.BotToken)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("create messaging client: %w", err)
	}

	mediaDir := cfg.RecordStore.Dir + "/media"

	var opts []indexengine.Option
	if cfg.Embedding != nil && cfg.Embedding.APIKey != "" {
		provider, alignedImage := buildProvider(cfg.Embedding)
		debounce := time.Duration(cfg.BatchPool.DebounceMillis) * time.Millisecond
		opts = append(opts, indexengine.WithEmbedding(provider, debounce, alignedImage))
	}

	engine := indexengine.New(store, index, ocrClient, msgClient, mediaDir, opts...)

	closeFn := func() {
		if index != nil {
			if err := index.Save(cfg.VectorIndex.Path); err != nil {
				L_error("final vector index save failed", "err", err)
			}
		}
		if err := store.Close(); err != nil {
			L_error("record store close failed", "err", err)
		}
	}
	return engine, closeFn, nil
}

// buildProvider constructs the configured embedding.Provider. Only
// DashScope's multimodal-embedding model aligns text and image vectors
// in one space (§9 design note ii); OpenAI's text-only embeddings never
// report aligned image support.
func buildProvider(cfg *config.EmbeddingConfig) (embedding.Provider, bool) {
	if cfg.Provider == "openai" {
		return embedding.NewOpenAIProvider(cfg.APIKey, cfg.ModelID), false
	}
	return embedding.NewDashScopeProvider(cfg.APIKey, cfg.ModelID), true
}

// RunCmd starts live ingestion: it listens for new messages and indexes
// each one as it arrives, periodically snapshotting the vector index,
// until interrupted.
type RunCmd struct{}

func (r *RunCmd) Run(c *Context) error {
	engine, closeEngine, err := openEngine(c.cfg)
	if err != nil {
		L_error("startup failed", "err", err)
		os.Exit(exitStartupError)
	}
	defer closeEngine()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSnapshotTimer(ctx, engine, c.cfg.VectorIndex.Path)

	L_info("tgdb: listening for messages", "chatID", c.cfg.ChatID)
	err = engine.Messaging.Listen(ctx, func(msg *msgtypes.InboundMessage) {
		if indexErr := engine.IndexMessage(ctx, msg, -1, 0); indexErr != nil {
			L_error("tgdb: failed to index inbound message", "messageID", msg.ID, "err", indexErr)
		}
	})
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func runSnapshotTimer(ctx context.Context, engine *indexengine.Engine, path string) {
	scheduler := cronlib.New()
	_, err := scheduler.AddFunc(snapshotCronSpec, func() {
		if engine.Index == nil {
			return
		}
		if err := engine.Index.Save(path); err != nil {
			L_error("periodic vector index snapshot failed", "err", err)
		} else {
			L_debug("vector index snapshot written", "path", path, "count", engine.Index.Count())
		}
	})
	if err != nil {
		L_error("snapshot scheduler: invalid cron spec", "spec", snapshotCronSpec, "err", err)
		return
	}

	scheduler.Start()
	defer scheduler.Stop()
	<-ctx.Done()
}

// ReindexCmd backfills a chat's history (E2).
type ReindexCmd struct {
	ChatID  int64 `help:"Chat id to reindex." required:""`
	UntilID int64 `help:"Highest sequence number to fill up to." required:""`
}

func (r *ReindexCmd) Run(c *Context) error {
	engine, closeEngine, err := openEngine(c.cfg)
	if err != nil {
		L_error("startup failed", "err", err)
		os.Exit(exitStartupError)
	}
	defer closeEngine()

	ctx := context.Background()
	return engine.IndexMessagesInChat(ctx, r.ChatID, r.UntilID, func(chatID, current int64) {
		L_info("reindex: progress", "chatID", chatID, "current", current, "untilID", r.UntilID)
	})
}

// InfoCmd reports record store and vector index statistics, and — with
// --message-id set — the upstream ("td"), indexed ("db"), or both
// ("tddb") views of one message, mirroring the in-chat `/info` command's
// replied-to-message inspection (§6).
type InfoCmd struct {
	MessageID int64  `help:"If set, print this message's view instead of store/index totals." optional:""`
	View      string `help:"Which view to print for --message-id: td, db, or tddb." default:"tddb" enum:"td,db,tddb"`
}

func (i *InfoCmd) Run(c *Context) error {
	engine, closeEngine, err := openEngine(c.cfg)
	if err != nil {
		L_error("startup failed", "err", err)
		os.Exit(exitStartupError)
	}
	defer closeEngine()

	if i.MessageID == 0 {
		fmt.Printf("records:  %d\n", engine.Store.Len())
		if engine.Index != nil {
			fmt.Printf("vectors:  %d (dimension=%d)\n", engine.Index.Count(), engine.Index.Dimension())
		} else {
			fmt.Println("vectors:  disabled")
		}
		return nil
	}

	if i.View == "td" || i.View == "tddb" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		msg, found, err := engine.Messaging.GetMessage(ctx, c.cfg.ChatID, i.MessageID)
		cancel()
		if err != nil {
			return fmt.Errorf("td view: %w", err)
		}
		if !found {
			fmt.Println("td: not observed live")
		} else {
			fmt.Printf("td:  variant=%s sender=%s\n", msg.Variant, msg.Sender.Nickname)
		}
	}

	if i.View == "db" || i.View == "tddb" {
		rec, ok := engine.Store.Get(i.MessageID)
		if !ok {
			fmt.Println("db: no record")
		} else {
			fmt.Printf("db:  sender=%s contents=%v image_file=%q\n", rec.Sender.Nickname, rec.TextifyedContents, rec.ImageFile)
		}
	}
	return nil
}

// PingCmd verifies the messaging client can reach the configured chat.
type PingCmd struct{}

func (p *PingCmd) Run(c *Context) error {
	engine, closeEngine, err := openEngine(c.cfg)
	if err != nil {
		L_error("startup failed", "err", err)
		os.Exit(exitStartupError)
	}
	defer closeEngine()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chat, err := engine.Messaging.GetChat(ctx, c.cfg.ChatID)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	fmt.Printf("ok: chat %d (%s, %s)\n", chat.ID, chat.Title, chat.Type)
	return nil
}

// UpgradeDatabaseCmd fills in image_file for stored records that lack
// one: it refetches each such message and, for a photo or sticker,
// records its local file path. It then backs up and rewrites the vector
// index snapshot; stored vectors are not recomputed.
type UpgradeDatabaseCmd struct{}

func (u *UpgradeDatabaseCmd) Run(c *Context) error {
	engine, closeEngine, err := openEngine(c.cfg)
	if err != nil {
		L_error("startup failed", "err", err)
		os.Exit(exitStartupError)
	}
	defer closeEngine()

	ctx := context.Background()
	var upgradeErr error
	upgraded := 0
	engine.Store.Range(func(key int64, rec *msgtypes.Record) bool {
		if rec.ImageFile != "" {
			return true
		}
		path, found, err := engine.UpgradeImage(ctx, rec.ChatID, rec.MessageID)
		if err != nil {
			L_warn("upgradedatabase: refetch failed", "messageID", rec.MessageID, "err", err)
			return true
		}
		if !found {
			return true
		}
		rec.ImageFile = path
		if err := engine.Store.Put(key, rec); err != nil {
			upgradeErr = fmt.Errorf("rewrite record %d: %w", key, err)
			return false
		}
		upgraded++
		return true
	})
	if upgradeErr != nil {
		return upgradeErr
	}

	if engine.Index != nil {
		if err := backupSnapshot(c.cfg.VectorIndex.Path); err != nil {
			L_warn("upgradedatabase: snapshot backup failed, continuing", "err", err)
		}
		if err := engine.Index.Save(c.cfg.VectorIndex.Path); err != nil {
			return fmt.Errorf("rebuild vector index snapshot: %w", err)
		}
	}

	L_info("upgradedatabase: complete", "upgraded", upgraded)
	return nil
}

// backupSnapshot preserves the prior on-disk vector index snapshot (all
// four files of §6's format) before UpgradeDatabaseCmd overwrites it,
// using the rotating-backup helper config.BackupFile
// (internal/config/file.go).
func backupSnapshot(basePath string) error {
	for _, suffix := range []string{".faissidx", ".key2id", ".id2key", ".meta"} {
		if err := config.BackupFile(basePath+suffix, config.DefaultBackupCount); err != nil {
			return err
		}
	}
	return nil
}
