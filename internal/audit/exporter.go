package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

const maxExportRows = 10000

// ExportResult 导出结果
type ExportResult struct {
	Data        []byte `json:"data,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	TotalCount  int    `json:"totalCount"`
}

// Exporter 金币流水导出（对账用）
type Exporter struct {
	repo *Repository
	now  func() time.Time
}

// NewExporter 创建导出器
func NewExporter(repo *Repository) *Exporter {
	return &Exporter{repo: repo, now: time.Now}
}

// Export 按条件导出流水
func (e *Exporter) Export(ctx context.Context, q ListQuery, format ExportFormat) (*ExportResult, error) {
	records, err := e.repo.FindAll(ctx, q, maxExportRows)
	if err != nil {
		return nil, err
	}

	timestamp := e.now().Format("20060102_150405")
	if format == FormatCSV {
		return exportCSV(records, timestamp)
	}
	return exportJSON(records, e.now(), timestamp)
}

func exportCSV(records []CoinTransaction, timestamp string) (*ExportResult, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "用户ID", "房间ID", "消息ID", "类型", "金额", "变动后余额", "描述", "创建时间"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, r := range records {
		row := []string{
			r.ID,
			r.UserID,
			deref(r.RoomID),
			deref(r.MessageID),
			string(r.TransactionType),
			r.Amount.StringFixed(10),
			r.BalanceAfter.StringFixed(10),
			r.Description,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        buf.Bytes(),
		Filename:    fmt.Sprintf("coin_transactions_%s.csv", timestamp),
		ContentType: "text/csv; charset=utf-8",
		TotalCount:  len(records),
	}, nil
}

type exportEnvelope struct {
	ExportedAt   string            `json:"exportedAt"`
	TotalCount   int               `json:"totalCount"`
	Transactions []CoinTransaction `json:"transactions"`
}

func exportJSON(records []CoinTransaction, now time.Time, timestamp string) (*ExportResult, error) {
	data, err := json.MarshalIndent(exportEnvelope{
		ExportedAt:   now.UTC().Format(time.RFC3339),
		TotalCount:   len(records),
		Transactions: records,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        data,
		Filename:    fmt.Sprintf("coin_transactions_%s.json", timestamp),
		ContentType: "application/json; charset=utf-8",
		TotalCount:  len(records),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
