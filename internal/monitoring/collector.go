package monitoring

import (
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/prometheus/client_golang/prometheus"
)

type statsProvider interface {
	Stats() map[string]filesystem.Stats
}

// ImageCollector exports the block and inode usage of every mounted image at
// scrape time.
type ImageCollector struct {
	source  statsProvider
	mounted *prometheus.Desc
	blocks  *prometheus.Desc
	inodes  *prometheus.Desc
	bytes   *prometheus.Desc
}

// NewImageCollector returns a pointer to a new [ImageCollector].
func NewImageCollector(source statsProvider) *ImageCollector {
	return &ImageCollector{
		source: source,
		mounted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "images_mounted"),
			"Number of mounted images",
			nil, nil,
		),
		blocks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "image", "data_blocks"),
			"Data blocks of a mounted image by state",
			[]string{"image", "state"}, nil,
		),
		inodes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "image", "inodes"),
			"Inodes of a mounted image by state",
			[]string{"image", "state"}, nil,
		),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "image", "size_bytes"),
			"Total size of a mounted image in bytes",
			[]string{"image"}, nil,
		),
	}
}

// Describe implements [prometheus.Collector].
func (c *ImageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.mounted
	ch <- c.blocks
	ch <- c.inodes
	ch <- c.bytes
}

// Collect implements [prometheus.Collector].
func (c *ImageCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.mounted, prometheus.GaugeValue, float64(len(stats)))

	for name, s := range stats {
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(s.FreeBlocks), name, "free")
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(s.UsedBlocks), name, "used")
		ch <- prometheus.MustNewConstMetric(c.inodes, prometheus.GaugeValue, float64(s.FreeInodes), name, "free")
		ch <- prometheus.MustNewConstMetric(c.inodes, prometheus.GaugeValue, float64(s.UsedInodes), name, "used")
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.TotalBytes), name)
	}
}
