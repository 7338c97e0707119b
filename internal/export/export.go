package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	SheetTasks = "Tasks"
	SheetLogs  = "Log"

	timeLayout = "2006-01-02 15:04:05"
)

type Source interface {
	ListTasks(ctx context.Context, status string, limit int) ([]*models.SyncTask, error)
	ListLogs(ctx context.Context, f database.LogFilter) ([]*models.SyncLogEntry, error)
}

// Options selects what goes into a report. Zero values export failed tasks and error log
// entries.
type Options struct {
	TaskStatus string
	TaskLimit  int
	LogLevel   string
	LogLimit   int
}

func (o Options) withDefaults() Options {
	if o.TaskStatus == "" {
		o.TaskStatus = models.StatusFailed
	}
	if o.TaskLimit <= 0 {
		o.TaskLimit = 1000
	}
	if o.LogLevel == "" {
		o.LogLevel = models.LevelError
	}
	if o.LogLimit <= 0 {
		o.LogLimit = 1000
	}
	return o
}

// Exporter builds XLSX reports of queue tasks and sync log entries for administrators.
type Exporter struct {
	src    Source
	dir    string
	logger *zerolog.Logger
	now    func() time.Time
}

func New(src Source, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{src: src, dir: dir, logger: logger, now: time.Now}
}

// Build assembles the workbook. The caller closes it.
func (e *Exporter) Build(ctx context.Context, opts Options) (*excelize.File, error) {
	opts = opts.withDefaults()

	tasks, err := e.src.ListTasks(ctx, opts.TaskStatus, opts.TaskLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	logs, err := e.src.ListLogs(ctx, database.LogFilter{Level: opts.LogLevel, Limit: opts.LogLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to load log entries: %w", err)
	}

	f := excelize.NewFile()
	if err := writeTasks(f, tasks); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeLogs(f, logs); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// Write streams the workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, opts Options) error {
	f, err := e.Build(ctx, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into the export directory and returns its path.
func (e *Exporter) Save(ctx context.Context, opts Options) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.Build(ctx, opts)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(e.dir, FileName(e.now()))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", filePath).Msg("Sync report created")
	return filePath, nil
}

func FileName(at time.Time) string {
	return fmt.Sprintf("sync_report_%s.xlsx", at.Format("2006-01-02_15-04-05"))
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	style, err := headerStyle(f)
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func writeTasks(f *excelize.File, tasks []*models.SyncTask) error {
	if _, err := f.NewSheet(SheetTasks); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := writeHeader(f, SheetTasks, []string{
		"ID", "Object type", "Object ID", "Operation", "Status", "Attempts", "Last attempt", "Next attempt", "Error",
	}); err != nil {
		return err
	}
	for i, t := range tasks {
		writeRow(f, SheetTasks, i+2, []interface{}{
			t.ID, t.ObjectType, t.ObjectID, t.SyncType, t.Status, t.Attempts,
			formatTime(t.LastAttemptAt), formatTime(t.NextAttemptAt), t.ErrorMessage,
		})
	}
	_ = f.SetColWidth(SheetTasks, "A", "H", 15)
	_ = f.SetColWidth(SheetTasks, "I", "I", 80)
	return nil
}

func writeLogs(f *excelize.File, logs []*models.SyncLogEntry) error {
	if _, err := f.NewSheet(SheetLogs); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	if err := writeHeader(f, SheetLogs, []string{
		"Time", "Level", "Source", "Object type", "Object ID", "Message", "Details",
	}); err != nil {
		return err
	}
	for i, l := range logs {
		ts := l.Timestamp
		writeRow(f, SheetLogs, i+2, []interface{}{
			formatTime(&ts), l.Level, l.Source, l.ObjectType, l.ObjectID, l.Message, flatten(l.Details),
		})
	}
	_ = f.SetColWidth(SheetLogs, "A", "A", 20)
	_ = f.SetColWidth(SheetLogs, "F", "G", 60)
	return nil
}

// flatten renders details as "k=v" pairs in key order.
func flatten(p models.Payload) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s=%v", k, p[k])
	}
	return out
}
