// Package bigquery owns the analytics dataset: it resolves the logical fact
// tables to their configured names and streams rows into them.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

// Table is a logical fact table; the physical name comes from config.
type Table string

const (
	OrderFacts   Table = "order_facts"
	PaymentFacts Table = "payment_facts"
)

const (
	probeTimeout  = 10 * time.Second
	insertTimeout = 30 * time.Second
)

var (
	ErrNotInitialized = errors.New("bigquery client not initialized")
	errNoProject      = errors.New("gcp project id is required")
	errNoDataset      = errors.New("bigquery dataset is required")
)

// Row is one streamed row. InsertID lets BigQuery drop duplicates of a
// redelivered event on a best-effort basis.
type Row struct {
	InsertID string
	Value    any
}

type Client struct {
	bq      *bigquery.Client
	dataset *bigquery.Dataset
	tables  map[Table]string
}

// NewClient connects to the analytics dataset and fails fast when the dataset
// or a fact table is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errNoProject
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errNoDataset
	}
	tables, err := tableNames(cfg)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if file := strings.TrimSpace(gcp.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	bq, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	c := &Client{bq: bq, dataset: bq.Dataset(datasetID), tables: tables}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset":       datasetID,
			"order_facts":   tables[OrderFacts],
			"payment_facts": tables[PaymentFacts],
		}), "bigquery client initialized")
	}
	return c, nil
}

func tableNames(cfg config.BigQueryConfig) (map[Table]string, error) {
	out := map[Table]string{
		OrderFacts:   strings.TrimSpace(cfg.OrderFactsTable),
		PaymentFacts: strings.TrimSpace(cfg.PaymentFactsTable),
	}
	for logical, name := range out {
		if name == "" {
			return nil, fmt.Errorf("bigquery %s table name is required", logical)
		}
	}
	return out, nil
}

// Ping checks that the dataset and both fact tables exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return probeError("dataset", c.dataset.DatasetID, err)
	}
	for _, logical := range []Table{OrderFacts, PaymentFacts} {
		name := c.tables[logical]
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return probeError("table", name, err)
		}
	}
	return nil
}

// Put streams rows into a logical fact table. Row values must be structs (or
// pointers to structs) with bigquery tags.
func (c *Client) Put(ctx context.Context, table Table, rows []Row) error {
	if c == nil || c.bq == nil {
		return ErrNotInitialized
	}
	name, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("unknown fact table %q", table)
	}
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, row := range rows {
		schema, err := bigquery.InferSchema(row.Value)
		if err != nil {
			return fmt.Errorf("infer %s schema: %w", table, err)
		}
		savers = append(savers, &bigquery.StructSaver{Schema: schema, InsertID: row.InsertID, Struct: row.Value})
	}

	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()
	return c.dataset.Table(name).Inserter().Put(ctx, savers)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func probeError(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
