package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/craftlab-ai/appforge/internal/common"
)

// DocType identifies the parser that produced a Document.
type DocType string

const (
	TypePDF  DocType = "pdf"
	TypeDocx DocType = "docx"
	TypeXlsx DocType = "xlsx"
	TypeText DocType = "txt"
)

// Sheet holds one spreadsheet tab: the raw row grid plus a flattened text
// rendering used for chunking.
type Sheet struct {
	Name    string
	Rows    [][]string
	Summary string
}

// Document is the normalized record produced by ParseDocument. A failed or
// unsupported file sets Err instead of propagating an error so that batch
// ingestion can continue past it; callers must check Err before chunking.
type Document struct {
	Type     DocType
	Filename string
	FullText string

	Paragraphs []string
	Tables     [][][]string
	Sheets     []Sheet

	Err string
}

// ParseDocument dispatches on the file extension and extracts text content.
// All I/O and decode failures are captured in the returned record; this never
// returns a process-level fault.
func ParseDocument(path string) (doc Document) {
	filename := filepath.Base(path)
	defer func() {
		if r := recover(); r != nil {
			common.Logger().Warn("ingest: parser panic recovered", "file", filename, "cause", r)
			doc = Document{Type: doc.Type, Filename: filename, Err: fmt.Sprintf("decode %s: %v", filename, r)}
		}
	}()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return parsePDF(path)
	case ".docx":
		return parseDocx(path)
	case ".xlsx", ".xls":
		return parseXlsx(path)
	case ".txt", ".md":
		return parseText(path)
	default:
		return Document{
			Type:     "unknown",
			Filename: filename,
			Err:      fmt.Sprintf("Unsupported file type: %s", strings.ToLower(filepath.Ext(path))),
		}
	}
}

func parsePDF(path string) Document {
	doc := Document{Type: TypePDF, Filename: filepath.Base(path)}
	file, reader, err := pdf.Open(path)
	if err != nil {
		doc.Err = fmt.Sprintf("read pdf: %v", err)
		return doc
	}
	defer file.Close()
	var pages []string
	for num := 1; num <= reader.NumPage(); num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			common.Logger().Debug("ingest: pdf page extraction failed", "file", doc.Filename, "page", num, "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	doc.FullText = strings.Join(pages, "\n\n")
	return doc
}

func parseDocx(path string) Document {
	doc := Document{Type: TypeDocx, Filename: filepath.Base(path)}
	archive, err := zip.OpenReader(path)
	if err != nil {
		doc.Err = fmt.Sprintf("read docx: %v", err)
		return doc
	}
	defer archive.Close()
	var body io.ReadCloser
	for _, entry := range archive.File {
		if entry.Name == "word/document.xml" {
			body, err = entry.Open()
			break
		}
	}
	if err != nil {
		doc.Err = fmt.Sprintf("read docx: %v", err)
		return doc
	}
	if body == nil {
		doc.Err = "read docx: missing word/document.xml"
		return doc
	}
	defer body.Close()
	paragraphs, tables, err := walkDocxBody(body)
	if err != nil {
		doc.Err = fmt.Sprintf("decode docx: %v", err)
		return doc
	}
	doc.Paragraphs = paragraphs
	doc.Tables = tables
	doc.FullText = strings.Join(paragraphs, "\n")
	return doc
}

// walkDocxBody streams WordprocessingML, collecting paragraph text outside
// tables and cell grids inside them. Nested tables are flattened into the
// enclosing cell.
func walkDocxBody(r io.Reader) ([]string, [][][]string, error) {
	decoder := xml.NewDecoder(r)
	var (
		paragraphs []string
		tables     [][][]string

		tableDepth int
		table      [][]string
		row        []string
		inCell     bool

		text strings.Builder
	)
	flushParagraph := func() {
		if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
		text.Reset()
	}
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				if tableDepth == 0 {
					table = nil
				}
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					row = nil
				}
			case "tc":
				if tableDepth == 1 {
					inCell = true
					text.Reset()
				}
			case "p":
				if tableDepth == 0 {
					text.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(table) > 0 {
					tables = append(tables, table)
				}
			case "tr":
				if tableDepth == 1 && row != nil {
					table = append(table, row)
				}
			case "tc":
				if tableDepth == 1 {
					row = append(row, strings.TrimSpace(text.String()))
					text.Reset()
					inCell = false
				}
			case "p":
				if tableDepth == 0 {
					flushParagraph()
				} else if inCell {
					text.WriteString(" ")
				}
			}
		case xml.CharData:
			text.Write(t)
		}
	}
	return paragraphs, tables, nil
}

func parseXlsx(path string) Document {
	doc := Document{Type: TypeXlsx, Filename: filepath.Base(path)}
	book, err := excelize.OpenFile(path)
	if err != nil {
		doc.Err = fmt.Sprintf("read spreadsheet: %v", err)
		return doc
	}
	defer book.Close()
	for _, name := range book.GetSheetList() {
		rows, err := book.GetRows(name)
		if err != nil {
			doc.Err = fmt.Sprintf("read sheet %s: %v", name, err)
			return doc
		}
		doc.Sheets = append(doc.Sheets, Sheet{
			Name:    name,
			Rows:    rows,
			Summary: flattenRows(rows),
		})
	}
	return doc
}

func flattenRows(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line := strings.TrimSpace(strings.Join(row, "\t"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func parseText(path string) Document {
	doc := Document{Type: TypeText, Filename: filepath.Base(path)}
	data, err := os.ReadFile(path)
	if err != nil {
		doc.Err = fmt.Sprintf("read file: %v", err)
		return doc
	}
	doc.FullText = string(data)
	return doc
}
