package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medora_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medora_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medora_document_uploads_total",
		Help: "Document uploads by outcome",
	}, []string{"flow", "outcome"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medora_document_upload_bytes_total",
		Help: "Bytes accepted into storage",
	})

	quotaRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medora_quota_rejections_total",
		Help: "Uploads rejected because the storage quota was exhausted",
	})

	shareViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medora_share_views_total",
		Help: "Successful shared document views",
	})

	shareDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medora_share_downloads_total",
		Help: "Successful shared document downloads",
	})

	trashPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medora_trash_purged_total",
		Help: "Documents permanently removed by the trash janitor",
	})
)

// GinMiddleware 记录请求数与耗时，路径使用路由模板避免标签基数膨胀
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler /metrics 端点
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// ObserveUpload flow: direct | presigned；outcome: ok 或错误类别
func ObserveUpload(flow, outcome string, bytes int64) {
	uploadsTotal.WithLabelValues(flow, outcome).Inc()
	if outcome == "ok" && bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

func IncQuotaRejection() { quotaRejectionsTotal.Inc() }

func IncShareView() { shareViewsTotal.Inc() }

func IncShareDownload() { shareDownloadsTotal.Inc() }

func AddTrashPurged(n int) {
	if n > 0 {
		trashPurgedTotal.Add(float64(n))
	}
}
