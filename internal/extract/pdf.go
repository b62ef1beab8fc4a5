// Package extract turns uploaded documents and video links into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
)

// Document is the text of a PDF plus its page count.
type Document struct {
	Text  string
	Pages int
}

// PageReader returns the text of each page in order, plus the page count.
// Pages without extractable text are returned as empty strings.
type PageReader interface {
	ReadPages(ctx context.Context, data []byte) ([]string, int, error)
}

type PDF struct {
	reader PageReader
}

func NewPDF(reader PageReader) *PDF {
	return &PDF{reader: reader}
}

// Extract joins the non-empty page texts with newlines. A document with no
// text on any page is most likely scanned and yields an extraction error.
func (p *PDF) Extract(ctx context.Context, data []byte) (Document, error) {
	pages, count, err := p.reader.ReadPages(ctx, data)
	if err != nil {
		return Document{}, apperr.Extraction("Could not read the PDF file. It may be corrupted or encrypted.", err)
	}

	var b strings.Builder
	for _, page := range pages {
		if page == "" {
			continue
		}
		b.WriteString(page)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return Document{Pages: count}, apperr.Extraction("Could not extract text from PDF. The file may be scanned or image-based.", nil)
	}
	return Document{Text: text, Pages: count}, nil
}

// NativeReader parses PDFs in-process.
type NativeReader struct{}

func (NativeReader) ReadPages(ctx context.Context, data []byte) (pages []string, count int, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, err
	}

	count = r.NumPage()
	pages = make([]string, 0, count)
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			return nil, 0, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, txt)
	}
	return pages, count, nil
}

// DocconvReader shells out to poppler through docconv. pdftotext separates
// pages with form feeds; pdfinfo reports the page count.
type DocconvReader struct{}

func (DocconvReader) ReadPages(ctx context.Context, data []byte) ([]string, int, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return nil, 0, err
	}
	return splitFormFeeds(res.Body, res.Meta["Pages"])
}

func splitFormFeeds(body, pagesMeta string) ([]string, int, error) {
	pages := strings.Split(body, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	count := len(pages)
	if n, err := strconv.Atoi(strings.TrimSpace(pagesMeta)); err == nil && n > 0 {
		count = n
	}
	return pages, count, nil
}
