package elasticsearch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/olivere/elastic"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/outputs"
)

// Elasticsearch bulk-indexes samples, one document per sample, with the
// bucket as the index name. Document ids are generated up front so a retried
// batch overwrites its earlier copy instead of creating duplicates.
type Elasticsearch struct {
	URLs    []string        `toml:"urls"`
	DocType string          `toml:"doc_type"`
	Timeout config.Duration `toml:"timeout"`
	Gzip    bool            `toml:"use_compression"`

	Log statspipe.Logger `toml:"-"`

	client *elastic.Client
}

func (e *Elasticsearch) Init() error {
	if e.Log == nil {
		e.Log = logger.New("outputs.elasticsearch")
	}
	if len(e.URLs) == 0 {
		return fmt.Errorf("elasticsearch output needs at least one url")
	}
	return nil
}

func (e *Elasticsearch) Connect() error {
	client, err := elastic.NewClient(
		elastic.SetURL(e.URLs...),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetGzip(e.Gzip),
	)
	if err != nil {
		return fmt.Errorf("creating elasticsearch client: %w", err)
	}
	e.client = client
	return nil
}

func (e *Elasticsearch) Close() error {
	if e.client != nil {
		e.client.Stop()
		e.client = nil
	}
	return nil
}

func (e *Elasticsearch) Write(batch []statspipe.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(e.Timeout))
	defer cancel()

	bulk := e.client.Bulk()
	for _, sample := range batch {
		bulk.Add(elastic.NewBulkIndexRequest().
			Index(sample.Bucket).
			Type(e.DocType).
			Id(uuid.New().String()).
			Doc(document(sample)))
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return fmt.Errorf("bulk indexing: %w", err)
	}
	if resp.Errors {
		failed := len(resp.Failed())
		e.Log.Errorf("Bulk upload: %d of %d documents failed", failed, len(batch))
	}
	return nil
}

// document flattens one sample into an indexable map. Elasticsearch's
// default date parsing wants "2006-01-02 15:04:05.000" without a zone.
func document(sample statspipe.Sample) map[string]interface{} {
	doc := make(map[string]interface{}, len(sample.Metadata)+4)
	for k, v := range sample.Metadata {
		doc[k] = v
	}
	for name, v := range sample.Values.Fields() {
		doc[name] = v
	}
	ts := time.UnixMilli(int64(math.Round(sample.Timestamp * 1000))).UTC()
	doc["timestamp"] = ts.Format("2006-01-02 15:04:05.000")
	return doc
}

func init() {
	outputs.Add("elasticsearch", func() statspipe.Output {
		return &Elasticsearch{
			URLs:    []string{"http://127.0.0.1:9200"},
			DocType: "doc",
			Timeout: config.Duration(10 * time.Second),
			Gzip:    true,
		}
	})
}
