package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lk2023060901/medora-backend/internal/conf"
	"github.com/lk2023060901/medora-backend/internal/data"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	docdata "github.com/lk2023060901/medora-backend/internal/document/data"
	"github.com/lk2023060901/medora-backend/internal/document/queue"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/workerpool"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "config file path")
	retention  = flag.Duration("retention", 0, "override documents.trash_retention, e.g. 720h")
	dryRun     = flag.Bool("dry-run", false, "list expired trash without deleting")
)

func main() {
	flag.Parse()

	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *retention > 0 {
		config.Documents.Retention = *retention
	}

	zlog, err := logger.New(&config.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Sync()

	fmt.Println("==========================================")
	fmt.Println("清理回收站过期文档")
	fmt.Println("==========================================")

	ctx := context.Background()

	d, cleanup, err := data.NewData(config, zlog)
	if err != nil {
		log.Fatalf("连接存储失败: %v", err)
	}
	defer cleanup()

	repo := docdata.NewDocumentRepo(d.DB)
	cutoff := time.Now().Add(-config.Documents.Retention)
	fmt.Printf("保留期: %s，截止时间: %s\n\n", config.Documents.Retention, cutoff.Format(time.RFC3339))

	if *dryRun {
		printExpired(ctx, repo, cutoff, config.Documents.BatchSize)
		return
	}

	pool, err := workerpool.New(&config.WorkerPool, zlog.Logger)
	if err != nil {
		log.Fatalf("创建 worker 池失败: %v", err)
	}
	defer pool.Shutdown()

	quota := biz.NewQuotaUseCase(docdata.NewLedgerRepo(d.DB), config.Documents.DefaultQuotaBytes, zlog)
	docs := biz.NewDocumentUseCase(repo, data.NewBlobStore(config, d), quota, pool, config.Policy(), zlog)

	// 手动执行不抢占租约，与在线实例的定时清理互不影响
	janitor := queue.NewJanitor(docs, nil, config.Documents.JanitorConfig, zlog.Logger)
	purged, err := janitor.RunOnce(ctx)
	if err != nil {
		fmt.Printf("   ✗ 清理中断: %v\n", err)
	}
	fmt.Printf("   ✓ 已永久删除 %d 个文档\n", purged)

	if err != nil {
		os.Exit(1)
	}
}

func printExpired(ctx context.Context, repo *docdata.DocumentRepo, cutoff time.Time, limit int) {
	docs, err := repo.ListTrashedBefore(ctx, cutoff, limit)
	if err != nil {
		log.Fatalf("查询回收站失败: %v", err)
	}
	if len(docs) == 0 {
		fmt.Println("   没有需要清理的文档")
		return
	}

	var total int64
	for _, doc := range docs {
		fmt.Printf("   %s  %s  %s  %d bytes  trashed_at=%s\n",
			doc.ID, doc.OwnerID, doc.Name, doc.BlobRef.SizeBytes, doc.TrashedAt.Format(time.RFC3339))
		total += doc.BlobRef.SizeBytes
	}
	fmt.Printf("\n   共 %d 个文档，%d bytes（最多显示 %d 个）\n", len(docs), total, limit)
}
