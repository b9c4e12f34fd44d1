package report

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"atelier/internal/model"
)

// Builder produces the downloadable catalog workbook for a resolved
// job snapshot. Building may fail; the caller finalizes the job either
// way.
type Builder interface {
	Build(snap model.Snapshot) (model.Report, error)
}

// XLSXBuilder renders one worksheet: a two-column block per described
// garment (frame label + product name and description lines) followed
// by an error section for failed files.
type XLSXBuilder struct {
	sheetName        string
	descriptionLines int
	logger           *slog.Logger
}

func NewXLSXBuilder(sheetName string, descriptionLines int, logger *slog.Logger) *XLSXBuilder {
	if sheetName == "" {
		sheetName = "Fashion Catalog"
	}
	if descriptionLines <= 0 {
		descriptionLines = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXBuilder{sheetName: sheetName, descriptionLines: descriptionLines, logger: logger}
}

func (b *XLSXBuilder) Build(snap model.Snapshot) (model.Report, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	sheet := b.sheetName
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return model.Report{}, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if defaultIndex, _ := f.GetSheetIndex("Sheet1"); defaultIndex != -1 && sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	fileByTask := make(map[string]model.FileView, len(snap.Files))
	for _, fv := range snap.Files {
		fileByTask[fv.ID.String()] = fv
	}

	// Report rows follow submission order, not completion order.
	results := append([]model.ResultRecord(nil), snap.Results...)
	sort.Slice(results, func(i, j int) bool {
		return fileByTask[results[i].TaskID.String()].Order < fileByTask[results[j].TaskID.String()].Order
	})

	row := 1
	write := func(frame, details string) error {
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), frame); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, fmt.Sprintf("B%d", row), details); err != nil {
			return err
		}
		row++
		return nil
	}

	for i, res := range results {
		frameLabel := fileByTask[res.TaskID.String()].OriginalName
		if frameLabel == "" {
			frameLabel = fmt.Sprintf("Image %d", i+1)
		}

		name, lines := b.parseDescription(res.Description)
		if name == "" {
			name = "Untitled"
		}

		if err := write(frameLabel, "Name: "+name); err != nil {
			return model.Report{}, err
		}
		if err := write("", ""); err != nil {
			return model.Report{}, err
		}
		if err := write("", fmt.Sprintf("Description (%d lines):", b.descriptionLines)); err != nil {
			return model.Report{}, err
		}
		for _, line := range lines {
			if err := write("", line); err != nil {
				return model.Report{}, err
			}
		}
		if err := write("", ""); err != nil {
			return model.Report{}, err
		}
	}

	if len(snap.Errors) > 0 {
		if err := write("Errors", ""); err != nil {
			return model.Report{}, err
		}
		for _, rec := range snap.Errors {
			label := fileByTask[rec.TaskID.String()].OriginalName
			if label == "" {
				label = "Unknown"
			}
			if err := write(label, "Failed: "+rec.Message); err != nil {
				return model.Report{}, err
			}
			if err := write("", ""); err != nil {
				return model.Report{}, err
			}
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 100)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return model.Report{}, fmt.Errorf("xlsx write: %w", err)
	}

	b.logger.Info("report built",
		"job_id", snap.ID.String(),
		"rows", len(results),
		"errors", len(snap.Errors),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return model.Report{
		Filename: fmt.Sprintf("fashion-catalog-%s.xlsx", snap.ID.String()),
		Bytes:    buf.Bytes(),
	}, nil
}

var bulletPrefix = regexp.MustCompile(`^[-•]\s*`)

// parseDescription splits a model's free-text listing into a product
// name and a fixed number of description lines. The name comes from a
// "Name:" prefix when present, otherwise the first non-empty line;
// heading lines like "Description (4 lines):" are skipped; missing
// lines are padded empty.
func (b *XLSXBuilder) parseDescription(description string) (string, []string) {
	if strings.TrimSpace(description) == "" {
		return "", make([]string, b.descriptionLines)
	}

	var name string
	var remaining []string

	for _, raw := range strings.Split(description, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if name == "" && strings.HasPrefix(lower, "name:") {
			name = strings.TrimSpace(line[len("name:"):])
			continue
		}
		if strings.HasPrefix(lower, "description") {
			continue
		}
		remaining = append(remaining, bulletPrefix.ReplaceAllString(line, ""))
	}

	if name == "" && len(remaining) > 0 {
		name = remaining[0]
		remaining = remaining[1:]
	}

	for len(remaining) < b.descriptionLines {
		remaining = append(remaining, "")
	}

	return name, remaining[:b.descriptionLines]
}
